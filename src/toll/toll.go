package toll

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/meshnetworks/toll/src/babel"
	"github.com/meshnetworks/toll/src/config"
	"github.com/meshnetworks/toll/src/crypto/keys"
	"github.com/meshnetworks/toll/src/engine"
	"github.com/meshnetworks/toll/src/kernel"
	"github.com/meshnetworks/toll/src/ledger"
	"github.com/meshnetworks/toll/src/meter"
	"github.com/meshnetworks/toll/src/neighbors"
	"github.com/meshnetworks/toll/src/payments"
	"github.com/meshnetworks/toll/src/service"
	"github.com/meshnetworks/toll/src/usage"
)

// usageRoundDuration is the accounting period of the usage tracker.
const usageRoundDuration = time.Hour

// Toll is a toll daemon: it assembles the babeld client, the WireGuard
// kernel interface, the ledger, the payment controller, and the engine, and
// runs them.
type Toll struct {
	Config     *config.Config
	Registry   *neighbors.Registry
	Babel      *babel.Client
	Kernel     *kernel.Interface
	Store      ledger.Store
	Keeper     *ledger.Keeper
	Channel    payments.Channel
	Controller *payments.Controller
	Engine     *engine.Engine
	Service    *service.Service

	policy *ledger.RelayPolicy
}

// NewToll ...
func NewToll(conf *config.Config) *Toll {
	return &Toll{
		Config: conf,
	}
}

func (t *Toll) initKey() error {
	if t.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(t.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			t.Config.Logger().Warn("Cannot read private key from file", err)

			privKey, err = Keygen(t.Config.Keyfile())
			if err != nil {
				t.Config.Logger().Error("Cannot generate a new private key", err)
				return err
			}

			t.Config.Logger().Info("Created a new key: ",
				keys.PublicKeyHex(&privKey.PublicKey))
		}

		t.Config.Key = privKey
	}
	return nil
}

func (t *Toll) initNeighbors() error {
	t.Registry = neighbors.NewRegistry(t.Config.Logger())

	neighborSet := neighbors.NewJSONNeighborSet(t.Config.DataDir)

	ns, err := neighborSet.Neighbors()
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading neighbors.json: %s", err)
		}

		t.Config.Logger().Warn("No neighbors.json; starting with an empty neighbor set")

		return nil
	}

	for _, n := range ns {
		t.Registry.Add(n)
	}

	t.Config.Logger().WithField("count", len(ns)).Debug("Loaded provisioned neighbors")

	return nil
}

func (t *Toll) initStore() error {
	if !t.Config.Store {
		t.Store = ledger.NewInmemStore()

		t.Config.Logger().Debug("created new in-mem store")
	} else {
		var err error

		t.Config.Logger().WithField("path", t.Config.DatabaseDir).
			Debug("Attempting to load or create database")

		t.Store, err = ledger.LoadOrCreateBadgerStore(t.Config.DatabaseDir)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *Toll) initLedger() error {
	var policy ledger.PricePolicy
	if t.Config.ExitMode {
		policy = ledger.NewExitPolicy(t.Config.ExitFee, 1)
	} else {
		t.policy = ledger.NewRelayPolicy(t.Config.LocalFee, 1)
		policy = t.policy
	}

	keeper, err := ledger.NewKeeper(
		t.Store,
		policy,
		ledger.KeeperConfig{
			PayThreshold:    big.NewInt(t.Config.PayThreshold),
			MaxPayment:      big.NewInt(t.Config.MaxPayment),
			CreditLimit:     big.NewInt(t.Config.CreditLimit),
			ResumeThreshold: big.NewInt(t.Config.ResumeThreshold),
			DebtGrace:       t.Config.DebtGrace,
		},
		t.Config.Logger())
	if err != nil {
		return err
	}

	t.Keeper = keeper

	return nil
}

func (t *Toll) initBabel() error {
	t.Babel = babel.NewClient(t.Config.BabelAddr, t.Config.CallTimeout, t.Config.Logger())

	if err := t.Babel.Connect(); err != nil {
		return fmt.Errorf("connecting to babeld at %s: %s", t.Config.BabelAddr, err)
	}

	// advertise the configured fee from the start
	if err := t.Babel.SetLocalFee(t.Config.LocalFee); err != nil {
		return fmt.Errorf("setting local fee: %s", err)
	}

	return nil
}

func (t *Toll) initChannel() error {
	t.Channel = payments.NewRPCChannel(
		t.Config.ChannelAddr,
		t.Config.CallTimeout,
		t.Config.Logger())

	t.Controller = payments.NewController(
		t.Channel,
		t.Keeper,
		t.Config.CallTimeout,
		t.Config.Logger())

	return nil
}

func (t *Toll) initEngine() error {
	t.Kernel = kernel.NewInterface(kernel.ExecRunner, t.Config.Logger())

	iface := t.Config.WgInterface
	if t.Config.ExitMode && iface == config.DefaultWgInterface {
		iface = config.DefaultExitWgInterface
	}

	t.Engine = engine.NewEngine(
		t.Config,
		t.Registry,
		t.Babel,
		kernel.NewWgTunnelSource(t.Kernel, iface),
		t.Kernel,
		meter.NewMeter(kernel.NewWgCounterSource(t.Kernel, iface), t.Config.Logger()),
		t.Keeper,
		t.Controller,
		usage.NewTracker(t.Config.CacheSize, usageRoundDuration),
		t.policy,
		t.Config.Logger())

	return nil
}

func (t *Toll) initService() error {
	if !t.Config.NoService && t.Config.ServiceAddr != "" {
		t.Service = service.NewService(t.Config.ServiceAddr, t.Engine, t.Config.Logger())
	}
	return nil
}

// Init initializes all the components in dependency order.
func (t *Toll) Init() error {
	if err := t.initKey(); err != nil {
		return err
	}

	if err := t.initNeighbors(); err != nil {
		return err
	}

	if err := t.initStore(); err != nil {
		return err
	}

	if err := t.initLedger(); err != nil {
		return err
	}

	if err := t.initBabel(); err != nil {
		return err
	}

	if err := t.initChannel(); err != nil {
		return err
	}

	if err := t.initEngine(); err != nil {
		return err
	}

	if err := t.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and the engine. It blocks until Shutdown.
func (t *Toll) Run() {
	if t.Service != nil {
		go t.Service.Serve()
	}

	t.Engine.Run()
}

// Shutdown stops the engine and closes the external connections and the
// store.
func (t *Toll) Shutdown() {
	t.Engine.Shutdown()

	if t.Channel != nil {
		t.Channel.Close()
	}

	if t.Babel != nil {
		t.Babel.Close()
	}

	if t.Store != nil {
		t.Store.Close()
	}
}

// Keygen generates a new key and writes it to keyfile.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
