package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/wopihost/cmd/server"
)

var wopihostCmd = &cobra.Command{
	Use:   "wopihost",
	Short: "wopihost serves documents to WOPI-compatible online editors",
	Long: `wopihost is a WOPI host: it brokers access tokens between a document
store and an online editor such as Collabora Online, and serves the
CheckFileInfo, GetFile and PutFile endpoints the editor calls with them.`,
}

func Execute() {
	if err := wopihostCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	wopihostCmd.AddCommand(server.ServerCmd)
}
