package health

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"nexus_bot/internal/market"
	"nexus_bot/internal/models"
	"nexus_bot/internal/modules/config"
	"nexus_bot/internal/modules/health/service"
	"nexus_bot/internal/runner"
	"nexus_bot/internal/runner/sessions"
	"nexus_bot/pkg/logger"
)

const maxSignalBody = 64 << 10

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	addr := cfg.Service.HealthAddr
	if addr == "" {
		addr = ":8080"
	}
	return Config{Addr: addr}
}

// Runner — приём сигналов и список активных сессий.
type Runner interface {
	Submit(sig models.Signal) error
	Sessions() []*sessions.UserSession
}

func NewMux(state *service.State, r Runner, log *zap.Logger) *http.ServeMux {
	if log == nil {
		log = logger.L()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		// процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		accepted, rejected := state.Signals()
		resp := map[string]any{
			"ready":           state.Ready(),
			"wsConnected":     state.WSConnected(),
			"uptimeSec":       int64(state.Uptime().Seconds()),
			"sessions":        len(r.Sessions()),
			"lastTickUnix":    unixOrZero(state.LastTick()),
			"lastSignalUnix":  unixOrZero(state.LastSignal()),
			"signalsAccepted": accepted,
			"signalsRejected": rejected,
		}
		writeJSON(w, http.StatusOK, resp)
	})

	// сигналы от внешнего слоя стратегий
	mux.HandleFunc("/signals", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(req.Body, maxSignalBody))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var sig models.Signal
		if err := sonic.Unmarshal(body, &sig); err != nil {
			http.Error(w, "bad signal json", http.StatusBadRequest)
			return
		}
		if err := r.Submit(sig); err != nil {
			state.MarkSignal(false, time.Now())
			log.Warn("signal rejected", zap.String("symbol", sig.Symbol), zap.Error(err))
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"accepted": false, "error": err.Error()})
			return
		}
		state.MarkSignal(true, time.Now())
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
	})

	return mux
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("health server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewMux,
			func(s *service.State) market.Status { return s },
			func(m *runner.Manager) Runner { return m },
		),
		fx.Invoke(RunHTTP),
	)
}
