/*
Package embed turns a display reference into a live channel.

A Placeholder stands in for a display that has no channel yet. Opening a
session on one runs the upgrade path:

	params  -> DisplayURL        (object id or trusted URL)
	        -> Resolver.Resolve  (oEmbed descriptor over HTTP)
	        -> Builder.Build     (sanitized iframe markup -> websocket channel)
	        -> Placeholder.Attach

Parameters come from data-display-* attributes, the way a host page declares
an embed:

	<div data-display-id="5f0c5a3e2b1d4c6a7e8f9012" data-display-autoplay></div>

An attribute with an empty value means "1".
*/
package embed
