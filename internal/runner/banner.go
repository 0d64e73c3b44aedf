package runner

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/tcpdetect/pkg/version"
)

const banner = `
  __                __      __            __
 / /_____________/ /__  / /____  _____/ /_
/ __/ ___/ __ \/ __  / _ \/ __/ _ \/ ___/ __/
/ /_/ /__/ /_/ / /_/ /  __/ /_/  __/ /__/ /_
\__/\___/ .___/\__,_/\___/\__/\___/\___/\__/
       /_/
`

// showBanner is used to show the banner to the user
func showBanner() {
	gologger.Print().Msgf("%s%s\n", banner, au.BrightBlue(version.GetVersion()))
	gologger.Print().Msgf("\t\tprojectdiscovery.io\n\n")
}
