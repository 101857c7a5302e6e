package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/viewdeck/viewdeck/config"
	"github.com/viewdeck/viewdeck/controller"
	"github.com/viewdeck/viewdeck/gateway"
	"github.com/viewdeck/viewdeck/handlerregistry"
	"github.com/viewdeck/viewdeck/internal/logging"
	"github.com/viewdeck/viewdeck/middleware"
	"github.com/viewdeck/viewdeck/response"
	"github.com/viewdeck/viewdeck/router"
	"github.com/viewdeck/viewdeck/scheduler"
)

var (
	serveAddr       string
	serveConfigPath string
)

// ServeCmd starts the websocket gateway and dispatcher, grounded on
// the teacher's cmd/qntx/commands/server.go runServer: load config,
// build the long-lived server object, run it in a goroutine, and wait
// for a shutdown signal with a graceful-then-forced escalation.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the view dispatcher's websocket gateway",
	RunE:    runServe,
}

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "address to listen on")
	ServeCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a config file (toml/yaml/json)")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	reg := handlerregistry.New()
	r := registerBuiltinRoutes(reg)

	sched := scheduler.New(settings.MaxWorkers)
	defer sched.Stop()

	chain := buildMiddlewareChain(reg, settings.Middlewares)

	errHandlers := controller.ErrorHandlers{
		NotFound:    notFoundHandler{},
		ServerError: serverErrorHandler{},
	}
	priorities := controller.Priorities{
		DefaultView:          settings.DefaultViewPriority,
		DefaultMultiUserView: settings.DefaultMultiUserViewPriority,
		RequestMiddleware:    settings.RequestMiddlewarePriority,
	}

	ctrl := controller.New(r, sched, chain, nil, errHandlers, priorities)
	ctrl.SetFrontendViews(resolveFrontendViews(reg, settings))
	ctrl.StartMultiUserViews(context.Background())

	gw := gateway.New(ctrl, serveAddr)

	if serveConfigPath != "" {
		stopWatch, err := config.Watch(serveConfigPath, func(fresh *config.Settings) {
			ctrl.UpdateChain(buildMiddlewareChain(reg, fresh.Middlewares))
			ctrl.UpdatePriorities(controller.Priorities{
				DefaultView:          fresh.DefaultViewPriority,
				DefaultMultiUserView: fresh.DefaultMultiUserViewPriority,
				RequestMiddleware:    fresh.RequestMiddlewarePriority,
			})
			logging.Log.Infow("serve: config reloaded", "path", serveConfigPath)
		})
		if err != nil {
			logging.Log.Warnw("serve: config hot-reload disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	printStartupBanner(serveAddr, settings)

	errChan := make(chan error, 1)
	go func() {
		errChan <- gw.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway failed: %w", err)
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownDone <- gw.Stop(ctx)
		}()

		select {
		case err := <-shutdownDone:
			ctrl.Stop()
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

// buildMiddlewareChain resolves the configured middleware names from
// the registry in order (spec §6: MIDDLEWARES / CORE_MIDDLEWARES).
// Unknown names are skipped with a warning rather than failing
// startup, since a misconfigured optional middleware shouldn't take
// the whole gateway down.
func buildMiddlewareChain(reg *handlerregistry.Registry, names []string) *middleware.Chain {
	mws := make([]middleware.Middleware, 0, len(names))
	for _, name := range names {
		handler := reg.Get(name)
		mw, ok := handler.(middleware.Middleware)
		if !ok {
			logging.Log.Warnw("serve: configured middleware is not registered as a Middleware", "name", name)
			continue
		}
		mws = append(mws, mw)
	}
	return middleware.NewChain(mws...)
}

// resolveFrontendViews looks up the FRONTEND_VIEW / CORE_FRONTEND_VIEW
// handler names in the registry (spec §6 configuration table). Either
// or both may be unset; Controller.resolveFrontendHandler falls back
// through route override -> core -> global at dispatch time.
func resolveFrontendViews(reg *handlerregistry.Registry, settings *config.Settings) controller.FrontendViews {
	var views controller.FrontendViews
	if settings.CoreFrontendView != "" {
		views.Core = reg.Get(settings.CoreFrontendView)
	}
	if settings.FrontendView != "" {
		views.Global = reg.Get(settings.FrontendView)
	}
	return views
}

// registerBuiltinRoutes installs the core's own minimal routes: a
// health/welcome view at "/". Concrete application views are expected
// to call router.Register / handlerregistry.Register themselves when
// embedding this core as a library; this command only demonstrates
// the wiring.
func registerBuiltinRoutes(reg *handlerregistry.Registry) *router.Router {
	r := router.New()

	welcome := welcomeHandler{}
	reg.Register(welcome)
	r.Register(router.NewRoute("welcome", "/", welcome))

	return r
}

type welcomeHandler struct{}

func (welcomeHandler) Name() string { return "core.welcome" }
func (welcomeHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	return response.String("viewdeckd is running"), nil
}

type notFoundHandler struct{}

func (notFoundHandler) Name() string { return "core.on_404" }
func (notFoundHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	return response.Raw{Status: 404, Text: "Not Found"}, nil
}

type serverErrorHandler struct{}

func (serverErrorHandler) Name() string { return "core.on_500" }
func (serverErrorHandler) Run(ctx context.Context, rt router.ViewRuntime, req *router.Request) (response.RawResponse, error) {
	return response.Raw{Status: 500, Text: "Internal Server Error"}, nil
}
