package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// gdalWorkerCmd is the child-process entry point the warper farm
// spawns; it speaks the pipe protocol on stdin/stdout until the parent
// closes the pipe.
var gdalWorkerCmd = &cobra.Command{
	Use:    "gdal-worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := warper.NewGDALExecutor(viper.GetInt("gdal.datasetCacheSize"))
		if err != nil {
			return err
		}
		return warper.RunWorker(os.Stdin, os.Stdout, exec)
	},
}

func init() {
	rootCmd.AddCommand(gdalWorkerCmd)
}
