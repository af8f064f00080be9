package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/libsurvey/plsk/imls"
	"github.com/spf13/cobra"
)

func NewBackfillCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(imls.NewBackfillMain())
	if err != nil {
		panic(err)
	}
	com.Use = "backfill"
	com.Short = "Load every discovered edition, isolating failures per edition."
	return com
}

func init() {
	subcommandFns["backfill"] = NewBackfillCommand
}
