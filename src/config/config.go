package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/meshnetworks/toll/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultLogFile is the default name of the log file written by the
	// lfshook file hook.
	DefaultLogFile = "toll.log"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultServiceAddr     = "127.0.0.1:8080"
	DefaultBabelAddr       = "[::1]:6872"
	DefaultChannelAddr     = "127.0.0.1:4878"
	DefaultWgInterface     = "wg0"
	DefaultExitWgInterface = "wg_exit"
	DefaultRouteInterval   = 10 * time.Second
	DefaultMeterInterval   = 10 * time.Second
	DefaultEvalInterval    = 10 * time.Second
	DefaultSettleInterval  = 10 * time.Second
	DefaultCallTimeout     = 5 * time.Second
	DefaultLocalFee        = uint64(50)
	DefaultMaxFee          = uint64(5000)
	DefaultExitFee         = uint64(100)
	DefaultPayThreshold    = int64(1000000)
	DefaultMaxPayment      = int64(10000000)
	DefaultCreditLimit     = int64(5000000)
	DefaultResumeThreshold = int64(1000000)
	DefaultDebtGrace       = 2 * time.Minute
	DefaultRemovalGrace    = 1 * time.Hour
	DefaultCacheSize       = 1000
	DefaultStore           = true
)

// Config contains all the configuration properties of a Toll node.
type Config struct {
	// DataDir is the top-level directory containing Toll configuration and
	// data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the operator HTTP API.
	ServiceAddr string `mapstructure:"service-listen"`

	// BabelAddr is the address:port of the local babeld control socket.
	BabelAddr string `mapstructure:"babel-addr"`

	// ChannelAddr is the address:port of the payment-channel agent that
	// executes settlements on our behalf.
	ChannelAddr string `mapstructure:"channel-addr"`

	// WgInterface is the WireGuard interface carrying neighbor tunnels. Its
	// per-peer transfer counters are the source of traffic accounting.
	WgInterface string `mapstructure:"wg-interface"`

	// ExitMode selects exit-gateway billing: clients are billed for traffic in
	// both directions at the exit fee, plus the destination route price on
	// egress. A toll-exit daemon runs with this set.
	ExitMode bool `mapstructure:"exit"`

	// RouteInterval is the polling interval of the route-table snapshot. A
	// snapshot older than twice this interval is considered stale.
	RouteInterval time.Duration `mapstructure:"route-interval"`

	// MeterInterval is the traffic metering interval.
	MeterInterval time.Duration `mapstructure:"meter-interval"`

	// EvalInterval is the debt evaluation interval.
	EvalInterval time.Duration `mapstructure:"eval-interval"`

	// SettleInterval is the payment settlement interval.
	SettleInterval time.Duration `mapstructure:"settle-interval"`

	// CallTimeout bounds every external call: babeld queries, WireGuard
	// counter reads, and payment-channel RPCs.
	CallTimeout time.Duration `mapstructure:"call-timeout"`

	// LocalFee is the price, in minor currency units per byte, that this node
	// charges neighbors for forwarded traffic.
	LocalFee uint64 `mapstructure:"local-fee"`

	// MaxFee caps the per-byte price we accept from a route announcement.
	MaxFee uint64 `mapstructure:"max-fee"`

	// ExitFee is the per-byte price charged to clients in exit mode.
	ExitFee uint64 `mapstructure:"exit-fee"`

	// PayThreshold is the balance owed to a neighbor above which a payment
	// obligation is created.
	PayThreshold int64 `mapstructure:"pay-threshold"`

	// MaxPayment bounds the size of a single payment to limit exposure to
	// channel failure.
	MaxPayment int64 `mapstructure:"max-payment"`

	// CreditLimit is the unpaid debt a neighbor may accumulate before routing
	// through it is suspended.
	CreditLimit int64 `mapstructure:"credit-limit"`

	// ResumeThreshold is the lower hysteresis bound: a suspended neighbor is
	// only resumed once its debt falls below this value.
	ResumeThreshold int64 `mapstructure:"resume-threshold"`

	// DebtGrace is how long a neighbor may stay above the credit limit before
	// it is suspended.
	DebtGrace time.Duration `mapstructure:"debt-grace"`

	// RemovalGrace is how long a neighbor may be absent from the route table
	// before it is removed. Neighbors with nonzero debt are never removed.
	RemovalGrace time.Duration `mapstructure:"removal-grace"`

	// Store activates persistent storage. Without it the ledger lives in
	// memory only and a restart forgets unsettled debt; it exists for tests
	// and dry runs.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Key is the private key behind the node's identity and payment address.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:         DefaultDataDir(),
		LogLevel:        DefaultLogLevel,
		ServiceAddr:     DefaultServiceAddr,
		BabelAddr:       DefaultBabelAddr,
		ChannelAddr:     DefaultChannelAddr,
		WgInterface:     DefaultWgInterface,
		RouteInterval:   DefaultRouteInterval,
		MeterInterval:   DefaultMeterInterval,
		EvalInterval:    DefaultEvalInterval,
		SettleInterval:  DefaultSettleInterval,
		CallTimeout:     DefaultCallTimeout,
		LocalFee:        DefaultLocalFee,
		MaxFee:          DefaultMaxFee,
		ExitFee:         DefaultExitFee,
		PayThreshold:    DefaultPayThreshold,
		MaxPayment:      DefaultMaxPayment,
		CreditLimit:     DefaultCreditLimit,
		ResumeThreshold: DefaultResumeThreshold,
		DebtGrace:       DefaultDebtGrace,
		RemovalGrace:    DefaultRemovalGrace,
		Store:           DefaultStore,
		DatabaseDir:     DefaultDatabaseDir(),
		CacheSize:       DefaultCacheSize,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.Store = false
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Toll directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "toll". Besides
// the console output, a file hook duplicates every entry at or above Info
// level into toll.log under the datadir.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		pathMap := lfshook.PathMap{}

		logFile := filepath.Join(c.DataDir, DefaultLogFile)

		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			c.logger.Info("Failed to open log file, using default stderr")
		} else {
			f.Close()
			pathMap[logrus.InfoLevel] = logFile
			pathMap[logrus.WarnLevel] = logFile
			pathMap[logrus.ErrorLevel] = logFile

			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "toll")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level Toll config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Toll")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Toll")
		} else {
			return filepath.Join(home, ".toll")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
