package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/libsurvey/plsk/imls"
	"github.com/spf13/cobra"
)

func NewDiscoverCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(imls.NewDiscoverMain())
	if err != nil {
		panic(err)
	}
	com.Use = "discover"
	com.Short = "List the survey editions the publisher currently offers."
	return com
}

func init() {
	subcommandFns["discover"] = NewDiscoverCommand
}
