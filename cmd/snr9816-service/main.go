// main package for the snr9816-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/channel"
	"github.com/book-expert/snr9816-service/internal/config"
	"github.com/book-expert/snr9816-service/internal/device"
	"github.com/book-expert/snr9816-service/internal/httpapi"
	"github.com/book-expert/snr9816-service/internal/synth"
	"github.com/book-expert/snr9816-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "snr9816-service-bootstrap.log"
	serviceLogFile   = "snr9816-service.log"
	flagConfigDesc   = "Path to a TOML config file (defaults to the central configurator)"
	shutdownTimeout  = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func loadConfig(configPath string, bootstrapLog *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}

	return config.Load(bootstrapLog)
}

func run(configPath string) error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration
	cfg, err := loadConfig(configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Open the serial channel to the module
	port, err := channel.Open(cfg.Serial.Port, cfg.Serial.BaudRate)
	if err != nil {
		finalLog.Error("Failed to open serial port %s: %v", cfg.Serial.Port, err)

		return fmt.Errorf("failed to open serial port: %w", err)
	}

	guard := channel.NewGuard(port)
	driver := device.NewDriver(guard, cfg.Device(), finalLog)
	service := synth.New(driver, cfg.VoiceDefaults(), finalLog)

	finalLog.System("Serial channel open on %s at %d baud.", cfg.Serial.Port, cfg.Serial.BaudRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	running := 0

	// 5. Start the transports
	var server *http.Server

	if cfg.HTTPEnabled() {
		server = httpapi.NewServer(cfg.HTTP.Addr, httpapi.NewHandler(service, service, cfg.RequestTimeout(), finalLog))
		running++

		go func() {
			finalLog.System("HTTP listener starting on %s", cfg.HTTP.Addr)

			serveErr := server.ListenAndServe()
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server failed: %w", serveErr)

				return
			}

			errChan <- nil
		}()
	}

	if cfg.NATS.Enabled {
		natsConnection, connErr := nats.Connect(cfg.NATS.URL)
		if connErr != nil {
			finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, connErr)
			shutdown(server, guard, finalLog)

			return fmt.Errorf("failed to connect to NATS: %w", connErr)
		}

		defer natsConnection.Close()

		natsWorker, workerErr := worker.NewNatsWorker(
			natsConnection, cfg.NATS.SynthesizeSubject, service, cfg.RequestTimeout(), finalLog,
		)
		if workerErr != nil {
			shutdown(server, guard, finalLog)

			return fmt.Errorf("failed to create NATS worker: %w", workerErr)
		}

		running++

		go func() {
			errChan <- natsWorker.Run(ctx)
		}()
	}

	finalLog.System("snr9816-service successfully initialized.")

	// 6. Wait for a signal or a transport failure
	var runErr error

	select {
	case <-ctx.Done():
		finalLog.System("Shutdown signal received.")
	case runErr = <-errChan:
		running--

		if runErr != nil {
			finalLog.Error("Transport stopped: %v", runErr)
		}
	}

	stop()
	shutdown(server, guard, finalLog)

	for range running {
		transportErr := <-errChan
		if transportErr != nil && runErr == nil {
			runErr = transportErr
		}
	}

	finalLog.System("snr9816-service stopped.")

	return runErr
}

// shutdown stops the HTTP listener and closes the serial channel once any
// command in flight has finished.
func shutdown(server *http.Server, guard *channel.Guard, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		err := server.Shutdown(ctx)
		if err != nil {
			log.Warn("HTTP shutdown did not complete: %v", err)
		}
	}

	err := guard.Close(ctx)
	if err != nil {
		log.Warn("Failed to close serial channel: %v", err)
	}
}

func main() {
	configPath := flag.String("config", "", flagConfigDesc)
	flag.Parse()

	err := run(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
