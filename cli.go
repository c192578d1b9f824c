package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adsweep/pkg/config"
	"adsweep/pkg/devicepref"
	"adsweep/pkg/host/adb"
	"adsweep/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "adsweep",
	Short:         "Detects and skips in-app advertisements on an Android device",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig()
	},
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	config.SetDefaults(viper.GetViper())

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./adsweep.yaml)")
	pf.StringP("serial", "s", "", "device serial (default: the only connected device)")
	pf.String("adb", "", "path to the adb binary")
	pf.String("data-dir", "", "directory for the secure store, macros and logs")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("device.serial", pf.Lookup("serial"))
	viper.BindPFlag("device.adb_path", pf.Lookup("adb"))
	viper.BindPFlag("storage.data_dir", pf.Lookup("data-dir"))
	viper.BindPFlag("logger.level", pf.Lookup("log-level"))

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newKeywordsCmd(), newMacroCmd(), newDevicesCmd(), newVersionCmd())
}

// initializeConfig reads the config file and ADSWEEP_* environment variables
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(config.DefaultDataDir())
		viper.SetConfigName("adsweep")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ADSWEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// session is everything a command needs: config, logger, device and app
type session struct {
	cfg     *config.Config
	logger  zerolog.Logger
	closer  func()
	surface *adb.Surface
	app     *App
}

func (s *session) Close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown")
		}
	}
	s.closer()
}

func openSession() (*session, error) {
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	s := &session{cfg: cfg, logger: logger, closer: func() { logCloser.Close() }}

	runner := adb.ExecRunner{AdbPath: cfg.Device.AdbPath, Logger: logger}
	serial, err := resolveSerial(cfg, runner, logger)
	if err != nil {
		s.closer()
		return nil, err
	}
	cfg.Device.Serial = serial

	client, err := adb.NewClient(runner, adb.Options{
		Serial:          serial,
		DumpMinInterval: cfg.Device.DumpMinInterval,
	}, logger)
	if err != nil {
		s.closer()
		return nil, err
	}
	s.surface = adb.NewSurface(client)

	s.app, err = NewApp(cfg, s.surface, logger, Version)
	if err != nil {
		s.closer()
		return nil, err
	}
	return s, nil
}

// resolveSerial returns the configured serial, or picks one of the online
// devices. The chosen device is remembered as the most recently used.
func resolveSerial(cfg *config.Config, runner adb.Runner, logger zerolog.Logger) (string, error) {
	prefs, err := devicepref.Open(cfg.Storage.DataDir, logger)
	if err != nil {
		return "", err
	}

	serial := cfg.Device.Serial
	if serial == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		devices, err := adb.ListDevices(ctx, runner)
		if err != nil {
			return "", err
		}
		if serial, err = prefs.Choose(devices); err != nil {
			return "", err
		}
		logger.Info().Str("serial", serial).Msg("selected device")
	}

	prefs.Touch(serial, time.Now().UnixMilli())
	if err := prefs.Save(); err != nil {
		logger.Warn().Err(err).Msg("failed to remember device")
	}
	return serial, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func newDevicesCmd() *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices visible to adb, pinned and most recently used first",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, err := devicepref.Open(viper.GetString("storage.data_dir"), zerolog.Nop())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if pin != "" {
				if err := adb.ValidateDeviceID(pin); err != nil {
					return err
				}
				pinned := prefs.TogglePin(pin)
				if err := prefs.Save(); err != nil {
					return err
				}
				if pinned {
					fmt.Fprintf(out, "pinned %s\n", pin)
				} else {
					fmt.Fprintf(out, "unpinned %s\n", pin)
				}
				return nil
			}

			runner := adb.ExecRunner{AdbPath: viper.GetString("device.adb_path"), Logger: zerolog.Nop()}
			devices, err := adb.ListDevices(cmd.Context(), runner)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No devices connected")
				return nil
			}
			for _, d := range prefs.Rank(devices) {
				mark := ""
				if d.Serial == prefs.Pinned() {
					mark = "\tpinned"
				}
				last := "never"
				if ts := prefs.LastActive(d.Serial); ts > 0 {
					last = time.UnixMilli(ts).Format(time.DateTime)
				}
				fmt.Fprintf(out, "%s\t%s\tlast used %s%s\n", d.Serial, d.State, last, mark)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "pin a device serial (run again to unpin)")
	return cmd
}
