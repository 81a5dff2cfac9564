package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/meshnetworks/toll/src/toll"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Toll daemon
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runToll,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runToll(cmd *cobra.Command, args []string) error {
	daemon := toll.NewToll(_config)

	if err := daemon.Init(); err != nil {
		_config.Logger().Error("Cannot initialize daemon:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		daemon.Shutdown()
	}()

	daemon.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// External endpoints
	cmd.Flags().StringP("babel-addr", "b", _config.BabelAddr, "IP:Port of the babeld control socket")
	cmd.Flags().StringP("channel-addr", "c", _config.ChannelAddr, "IP:Port of the payment-channel agent")
	cmd.Flags().StringP("wg-interface", "w", _config.WgInterface, "WireGuard interface carrying neighbor tunnels")
	cmd.Flags().Duration("call-timeout", _config.CallTimeout, "Timeout for external calls")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Intervals
	cmd.Flags().Duration("route-interval", _config.RouteInterval, "Route-table polling interval")
	cmd.Flags().Duration("meter-interval", _config.MeterInterval, "Traffic metering interval")
	cmd.Flags().Duration("eval-interval", _config.EvalInterval, "Neighbor lifecycle evaluation interval")
	cmd.Flags().Duration("settle-interval", _config.SettleInterval, "Settlement evaluation interval")

	// Economics
	cmd.Flags().Uint64("local-fee", _config.LocalFee, "Fee charged per forwarded byte")
	cmd.Flags().Uint64("max-fee", _config.MaxFee, "Cap on accepted route prices")
	cmd.Flags().Uint64("exit-fee", _config.ExitFee, "Fee charged per byte in exit mode")
	cmd.Flags().Int64("pay-threshold", _config.PayThreshold, "Debt at which a payment is initiated")
	cmd.Flags().Int64("max-payment", _config.MaxPayment, "Cap on a single payment")
	cmd.Flags().Int64("credit-limit", _config.CreditLimit, "Unpaid debt before suspension")
	cmd.Flags().Int64("resume-threshold", _config.ResumeThreshold, "Debt below which a suspended neighbor resumes")
	cmd.Flags().Duration("debt-grace", _config.DebtGrace, "Time over the credit limit before suspension")
	cmd.Flags().Duration("removal-grace", _config.RemovalGrace, "Absence before a neighbor is removed")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in in-memory caches")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":         _config.DataDir,
		"LogLevel":        _config.LogLevel,
		"Moniker":         _config.Moniker,
		"BabelAddr":       _config.BabelAddr,
		"ChannelAddr":     _config.ChannelAddr,
		"WgInterface":     _config.WgInterface,
		"ExitMode":        _config.ExitMode,
		"ServiceAddr":     _config.ServiceAddr,
		"RouteInterval":   _config.RouteInterval,
		"MeterInterval":   _config.MeterInterval,
		"EvalInterval":    _config.EvalInterval,
		"SettleInterval":  _config.SettleInterval,
		"CallTimeout":     _config.CallTimeout,
		"LocalFee":        _config.LocalFee,
		"MaxFee":          _config.MaxFee,
		"PayThreshold":    _config.PayThreshold,
		"MaxPayment":      _config.MaxPayment,
		"CreditLimit":     _config.CreditLimit,
		"ResumeThreshold": _config.ResumeThreshold,
		"DebtGrace":       _config.DebtGrace,
		"RemovalGrace":    _config.RemovalGrace,
		"Store":           _config.Store,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/toll.toml (.json, .yaml also work)
	viper.SetConfigName("toll")          // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
