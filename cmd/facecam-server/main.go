// @title facecam-server API
// @version 1.0
// @description Webcam face detection: single-frame annotation, health and the detection journal
// @BasePath /api
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"facecam-server/internal/bootstrap"
	platformconfig "facecam-server/internal/platform/config"
)

var configPath string

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

var rootCmd = &cobra.Command{
	Use:   "facecam-server",
	Short: "Webcam face detection server",
	Long: `Serves a browser page that streams webcam frames over a websocket, marks
every detected face and sends the annotated frame back. An optional server-side
camera is published as an MJPEG stream on /video_feed.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("[%s] [INFO] [Bootstrap] starting facecam-server %s\n",
			time.Now().Format("2006-01-02 15:04:05.000"), getVersion())
		return bootstrap.Run(cmd.Context(), bootstrap.Options{ConfigPath: configPath})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "facecam-server %s (%s %s/%s)\n",
			getVersion(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration and print the effective values",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := platformconfig.NewLoader().WithPath(configPath).Load()
		if err != nil {
			return err
		}
		source := result.Path
		if source == "" {
			source = "built-in defaults"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", source)
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(result.Config)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config (default: $"+platformconfig.EnvConfigPath+", .config.yaml or config.yaml)")
	rootCmd.AddCommand(versionCmd, configCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "facecam-server failed: %v\n", err)
		os.Exit(1)
	}
}
