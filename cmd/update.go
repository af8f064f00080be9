package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/libsurvey/plsk/imls"
	"github.com/spf13/cobra"
)

func NewUpdateCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(imls.NewUpdateMain())
	if err != nil {
		panic(err)
	}
	com.Use = "update"
	com.Short = "Load the newest edition not already loaded."
	return com
}

func init() {
	subcommandFns["update"] = NewUpdateCommand
}
