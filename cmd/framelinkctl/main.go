// Command framelinkctl is a command line client for the framelink control API.
package main

import "github.com/GriffinCanCode/framelink/internal/ctl"

func main() {
	ctl.Execute()
}
