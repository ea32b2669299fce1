// Command mcsd is the Master Control System daemon: it loads a bootstrap
// manifest, constructs the full device tree (outlets, LRUs, VCCs, FSPs,
// SlimLinks, subarrays, controller) bottom-up, registers every
// cross-referenceable node, and blocks serving LRCs until signalled to
// stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/skyvane-array/mcs/config"
	"github.com/skyvane-array/mcs/drivers/linkhealth"
	"github.com/skyvane-array/mcs/drivers/power"
	"github.com/skyvane-array/mcs/drivers/provisioner"
	"github.com/skyvane-array/mcs/drivers/subscription"
	"github.com/skyvane-array/mcs/logging"
	"github.com/skyvane-array/mcs/model"
	"github.com/skyvane-array/mcs/node/controller"
	"github.com/skyvane-array/mcs/node/fsp"
	"github.com/skyvane-array/mcs/node/lru"
	"github.com/skyvane-array/mcs/node/poweroutlet"
	"github.com/skyvane-array/mcs/node/slimlink"
	"github.com/skyvane-array/mcs/node/subarray"
	"github.com/skyvane-array/mcs/node/vcc"
	"github.com/skyvane-array/mcs/registry"
	"github.com/skyvane-array/mcs/store"
	"github.com/skyvane-array/mcs/types"
)

func main() {
	manifestPath := flag.String("config", "mcsd.yaml", "path to the node-tree bootstrap manifest")
	flag.Parse()

	logger := logging.Base()
	defer logger.Sync() //nolint:errcheck

	if err := run(*manifestPath, logger); err != nil {
		logger.Error("mcsd exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(manifestPath string, logger *zap.Logger) error {
	cfg, err := config.Load(manifestPath)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	reg := registry.New()

	outlets, err := buildPowerOutlets(cfg)
	if err != nil {
		return err
	}
	lrus, err := buildLRUs(cfg, outlets, reg)
	if err != nil {
		return err
	}
	if err := buildSlimLinks(cfg, reg); err != nil {
		return err
	}
	vccByID, err := buildVCCs(cfg, reg)
	if err != nil {
		return err
	}
	fspByID, err := buildFSPs(cfg, reg)
	if err != nil {
		return err
	}
	sink, err := buildSubscriptionSink(cfg)
	if err != nil {
		return err
	}

	vccLookup := subarray.VCCLookup(func(id int) (*vcc.VCC, bool) { v, ok := vccByID[id]; return v, ok })
	fspLookup := subarray.FSPLookup(func(id int) (*fsp.FSP, bool) { f, ok := fspByID[id]; return f, ok })

	// ctl is assigned after construction; subarrays close over the
	// pointer rather than a value so every subarray sees the installed
	// SysParam once the Controller constructs and InitSysParam runs.
	var ctl *controller.Controller
	sysParam := func() *model.SysParam {
		if ctl == nil {
			return nil
		}
		return ctl.SysParam()
	}

	subarrays := make([]*subarray.Subarray, 0, len(cfg.Subarrays))
	for _, sc := range cfg.Subarrays {
		fqdn := types.FQDN(sc.FQDN)
		sub := subarray.New(fqdn, sc.SubarrayID, vccLookup, fspLookup, sysParam, sink)
		if err := reg.Register(sub); err != nil {
			return err
		}
		subarrays = append(subarrays, sub)
	}

	ctl = controller.New(types.FQDN(cfg.ControllerFQDN), lrus, subarrays, db)
	if err := reg.Register(ctl); err != nil {
		return err
	}

	logger.Info("mcsd started",
		zap.String("controller", cfg.ControllerFQDN),
		zap.Int("lrus", len(lrus)),
		zap.Int("vccs", len(vccByID)),
		zap.Int("fsps", len(fspByID)),
		zap.Int("subarrays", len(subarrays)),
		zap.Bool("simulation_mode", cfg.SimulationMode),
	)

	waitForShutdown(logger)
	return nil
}

// buildPowerOutlets constructs each LRU's outlet pair. Outlets are
// addressed only through their owning LRU and are not separately
// registered in the node registry.
func buildPowerOutlets(cfg *config.Config) (map[string]*powerOutletPair, error) {
	out := make(map[string]*powerOutletPair, len(cfg.LRUs))
	for _, l := range cfg.LRUs {
		var driver power.Driver
		if cfg.Simulate(l.Simulate) {
			driver = power.NewSimulator(l.OutletA, l.OutletB)
		} else {
			driver = power.NewHTTPDriver(l.PDUURL)
		}
		a := poweroutlet.New(types.FQDN(l.FQDN)+"/outlet-a/0", l.OutletA, driver)
		b := poweroutlet.New(types.FQDN(l.FQDN)+"/outlet-b/0", l.OutletB, driver)
		out[l.FQDN] = &powerOutletPair{a: a, b: b}
	}
	return out, nil
}

type powerOutletPair struct {
	a, b *poweroutlet.PowerOutlet
}

func buildLRUs(cfg *config.Config, outlets map[string]*powerOutletPair, reg *registry.Registry) ([]*lru.TalonLRU, error) {
	lrus := make([]*lru.TalonLRU, 0, len(cfg.LRUs))
	for _, l := range cfg.LRUs {
		pair, ok := outlets[l.FQDN]
		if !ok {
			return nil, fmt.Errorf("mcsd: lru %s: no outlet pair built", l.FQDN)
		}
		var prov provisioner.BoardProvisioner
		if cfg.Simulate(l.Simulate) {
			prov = provisioner.NewSimulator()
		} else {
			sshCfg, err := sshClientConfig(l.SSHUser, l.SSHKeyPath)
			if err != nil {
				return nil, err
			}
			prov = provisioner.NewSSHProvisioner(sshCfg, "22")
		}
		board := lru.BoardTarget{
			TargetIP:         l.BoardTargetIP,
			BitstreamPath:    l.BitstreamPath,
			DeviceServerList: l.DeviceServerList,
			MasterFQDN:       l.MasterFQDN,
		}
		node := lru.New(types.FQDN(l.FQDN), pair.a, pair.b, prov, board)
		if err := reg.Register(node); err != nil {
			return nil, err
		}
		lrus = append(lrus, node)
	}
	return lrus, nil
}

func buildSlimLinks(cfg *config.Config, reg *registry.Registry) error {
	for _, sl := range cfg.SlimLinks {
		var probe linkhealth.Probe
		if cfg.Simulate(sl.Simulate) {
			probe = linkhealth.NewSimulator()
		} else {
			probe = linkhealth.NewSNMPProbe(sl.SNMPCommunity)
		}
		node := slimlink.New(types.FQDN(sl.FQDN), sl.TxEndpoint, sl.RxEndpoint, probe)
		if err := reg.Register(node); err != nil {
			return err
		}
	}
	return nil
}

func buildVCCs(cfg *config.Config, reg *registry.Registry) (map[int]*vcc.VCC, error) {
	out := make(map[int]*vcc.VCC, len(cfg.VCCs))
	for _, vc := range cfg.VCCs {
		bands := make([]types.Band, 0, len(vc.SupportedBands))
		for _, b := range vc.SupportedBands {
			bands = append(bands, types.Band(b))
		}
		node := vcc.New(types.FQDN(vc.FQDN), bands)
		if err := reg.Register(node); err != nil {
			return nil, err
		}
		out[vc.ID] = node
	}
	return out, nil
}

func buildFSPs(cfg *config.Config, reg *registry.Registry) (map[int]*fsp.FSP, error) {
	out := make(map[int]*fsp.FSP, len(cfg.FSPs))
	for _, fc := range cfg.FSPs {
		node := fsp.New(types.FQDN(fc.FQDN))
		if err := reg.Register(node); err != nil {
			return nil, err
		}
		out[fc.ID] = node
	}
	return out, nil
}

func buildSubscriptionSink(cfg *config.Config) (subscription.Sink, error) {
	if cfg.Simulate(cfg.Subscription.Simulate) || cfg.Subscription.Target == "" {
		return subscription.NewSimulator(), nil
	}
	sink, err := subscription.DialGNMISink(context.Background(), cfg.Subscription.Target)
	if err != nil {
		return nil, fmt.Errorf("mcsd: dial subscription sink %s: %w", cfg.Subscription.Target, err)
	}
	return sink, nil
}

func sshClientConfig(user, keyPath string) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("mcsd: read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("mcsd: parse ssh key %s: %w", keyPath, err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // board boot console has no known_hosts in the field
		Timeout:         provisioner.CallTimeout,
	}, nil
}

func waitForShutdown(logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.Info("mcsd shutting down", zap.String("signal", s.String()))
}
