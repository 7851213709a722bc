package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartolinadev/cartolina-tileserver/internal/ctrl"
	"github.com/cartolinadev/cartolina-tileserver/internal/driver"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/server"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tiles generated on-the-fly from the resource catalogue",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("store-path", "./store", "Prepared-state directory")
	serveCmd.Flags().String("http-listen", "127.0.0.1:3070", "Listen address (host:port)")
	serveCmd.Flags().Int("http-thread-count", 0, "HTTP handler parallelism (0 = Go scheduler default)")
	serveCmd.Flags().Int("http-client-thread-count", 0, "HTTP client work parallelism")
	serveCmd.Flags().Bool("http-enable-browser", false, "Serve the resource listing at the root")
	serveCmd.Flags().String("http-external-url", "", "Externally visible base URL (defaults to listen address)")
	serveCmd.Flags().Int("core-thread-count", runtime.NumCPU(), "Producer task parallelism")
	serveCmd.Flags().Int("gdal-process-count", runtime.NumCPU(), "Warper worker processes")
	serveCmd.Flags().String("gdal-tmp-root", "", "GDAL scratch directory for workers")
	serveCmd.Flags().Int64("gdal-rss-limit", 0, "Aggregate worker RSS budget in bytes (0 = unlimited)")
	serveCmd.Flags().Duration("gdal-rss-check-period", 10*time.Second, "Warper housekeeping period")
	serveCmd.Flags().String("resource-backend-type", "conffile", "Catalogue backend type")
	serveCmd.Flags().Duration("resource-backend-update-period", 300*time.Second, "Catalogue poll period")
	serveCmd.Flags().String("resource-backend-root", "./resources.json", "Catalogue root (file or directory)")
	serveCmd.Flags().String("resource-backend-freeze", "", "Comma list of frozen kinds (tms|surface|geodata)")
	serveCmd.Flags().Bool("resource-backend-purge-removed", false, "Delete prepared artifacts of removed resources")
	serveCmd.Flags().Float64("introspection-default-fov", 45, "Default field of view for introspection clients")
	serveCmd.Flags().String("ctrl-socket", "./cartolina.ctrl", "Control-plane unix socket path")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("store.path", "store-path")
	mustBind("http.listen", "http-listen")
	mustBind("http.threadCount", "http-thread-count")
	mustBind("http.client.threadCount", "http-client-thread-count")
	mustBind("http.enableBrowser", "http-enable-browser")
	mustBind("http.externalUrl", "http-external-url")
	mustBind("core.threadCount", "core-thread-count")
	mustBind("gdal.processCount", "gdal-process-count")
	mustBind("gdal.tmpRoot", "gdal-tmp-root")
	mustBind("gdal.rssLimit", "gdal-rss-limit")
	mustBind("gdal.rssCheckPeriod", "gdal-rss-check-period")
	mustBind("resource-backend.type", "resource-backend-type")
	mustBind("resource-backend.updatePeriod", "resource-backend-update-period")
	mustBind("resource-backend.root", "resource-backend-root")
	mustBind("resource-backend.freeze", "resource-backend-freeze")
	mustBind("resource-backend.purgeRemoved", "resource-backend-purge-removed")
	mustBind("introspection.defaultFov", "introspection-default-fov")
	mustBind("ctrl.socket", "ctrl-socket")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	if backend := viper.GetString("resource-backend.type"); backend != "conffile" {
		return fmt.Errorf("unsupported resource backend: %s", backend)
	}

	listen := viper.GetString("http.listen")
	externalURL := viper.GetString("http.externalUrl")
	if externalURL == "" {
		externalURL = "http://" + listen
	}

	driver.RegisterAll()

	farm, err := warper.New(warper.Config{
		Processes:      viper.GetInt("gdal.processCount"),
		RSSLimit:       viper.GetInt64("gdal.rssLimit"),
		RSSCheckPeriod: viper.GetDuration("gdal.rssCheckPeriod"),
		TmpRoot:        viper.GetString("gdal.tmpRoot"),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to start warper farm: %w", err)
	}
	defer farm.Close()

	env := generator.Env{
		StoreRoot:   viper.GetString("store.path"),
		ExternalURL: externalURL,
		Farm:        farm,
		Log:         logger,
	}

	var freeze []string
	for _, kind := range strings.Split(viper.GetString("resource-backend.freeze"), ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			freeze = append(freeze, kind)
		}
	}

	manager := generator.NewManager(generator.Config{
		Root:           viper.GetString("resource-backend.root"),
		UpdatePeriod:   viper.GetDuration("resource-backend.updatePeriod"),
		FreezeTypes:    freeze,
		PurgeRemoved:   viper.GetBool("resource-backend.purgeRemoved"),
		PrepareWorkers: viper.GetInt("core.threadCount"),
	}, env, &resource.Loader{Log: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Run(ctx); err != nil {
		return err
	}
	defer manager.Close()

	ctrlSrv, err := ctrl.Listen(viper.GetString("ctrl.socket"), manager, logger)
	if err != nil {
		return fmt.Errorf("failed to bind control socket: %w", err)
	}
	go ctrlSrv.Serve(ctx)

	srv := server.New(server.Config{
		ExternalURL:   externalURL,
		EnableListing: viper.GetBool("http.enableBrowser"),
	}, manager.Set(), logger)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("tile server listening",
		"addr", listen,
		"external_url", externalURL,
		"store", viper.GetString("store.path"),
		"catalogue", viper.GetString("resource-backend.root"),
		"gdal_processes", viper.GetInt("gdal.processCount"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
