package work

import (
	"github.com/spf13/cobra"

	"github.com/Ambier/parameter-server/cmd/util"
	"github.com/Ambier/parameter-server/rpc/client"
	"github.com/Ambier/parameter-server/rpc/common"
)

var (
	// conn is shared by all subcommands, set up by setupWorkClient
	conn *client.Connector

	// WorkCommands represents the worker command group
	WorkCommands = &cobra.Command{
		Use:               "work",
		Short:             "Worker operations against the parameter servers (push, pull, perf)",
		PersistentPreRunE: setupWorkClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the work command
	util.SetupRPCClientFlags(WorkCommands)

	// Shard selection and value layout, both must match the server side
	WorkCommands.PersistentFlags().Int("shard", 1, util.WrapString("ID of the shard to work on"))
	WorkCommands.PersistentFlags().String("dtype", "float32", util.WrapString("Element type of the shard (float32, float64, int32, int64). Must match the server-side configuration"))
	WorkCommands.PersistentFlags().Int("vallen", 1, util.WrapString("Number of elements stored per key. Must match the server-side configuration"))

	// Add subcommands
	WorkCommands.AddCommand(pushCmd)
	WorkCommands.AddCommand(pullCmd)
	WorkCommands.AddCommand(perfTestCmd)
}

// setupWorkClient connects to the parameter servers before any subcommand runs
func setupWorkClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the client configuration
	config := util.GetClientConfig()
	common.InitLoggers(config.LogLevel)

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the connector
	conn, err = client.NewConnector(*config, t, s)

	return err
}
