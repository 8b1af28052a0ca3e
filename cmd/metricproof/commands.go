package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/metricproof/commitment"
	"github.com/eth2030/metricproof/config"
	"github.com/eth2030/metricproof/core/rawdb"
	"github.com/eth2030/metricproof/core/types"
	"github.com/eth2030/metricproof/light"
	"github.com/eth2030/metricproof/log"
	"github.com/eth2030/metricproof/metrics"
	"github.com/eth2030/metricproof/pipeline"
	"github.com/eth2030/metricproof/submit"
	"github.com/eth2030/metricproof/verifier"
	"github.com/eth2030/metricproof/witness"
	"github.com/eth2030/metricproof/zkvm"
)

// Key file names under the key directory.
const (
	provingKeyFile   = "groth16.pk"
	verifyingKeyFile = "groth16.vk"
)

// verifierDB is the verifier database directory under the data directory.
const verifierDB = "verifier"

var errRequestsFailed = errors.New("one or more requests failed")

var (
	proveCommand = &cli.Command{
		Name:   "prove",
		Usage:  "Build commitments and prove the configured metrics",
		Flags:  append([]cli.Flag{requestFlag, outFlag}, commonFlags...),
		Action: proveAction,
	}
	publishCommand = &cli.Command{
		Name:   "publish",
		Usage:  "Prove the configured metrics and submit them to the verifier contract",
		Flags:  append([]cli.Flag{requestFlag, outFlag, keyFileFlag, destinationFlag}, commonFlags...),
		Action: publishAction,
	}
	verifyCommand = &cli.Command{
		Name:      "verify",
		Usage:     "Check artifact files against a local verifier following the node's chain",
		ArgsUsage: "<artifact.json>...",
		Flags:     append([]cli.Flag{allowDevFlag}, commonFlags...),
		Action:    verifyAction,
	}
	setupCommand = &cli.Command{
		Name:   "setup",
		Usage:  "Generate Groth16 proving and verifying keys",
		Flags:  append([]cli.Flag{}, commonFlags...),
		Action: setupAction,
	}
	serveCommand = &cli.Command{
		Name:   "serve",
		Usage:  "Serve Groth16 proving over JSON-RPC",
		Flags:  append([]cli.Flag{listenFlag}, commonFlags...),
		Action: serveAction,
	}
)

func proveAction(c *cli.Context) error {
	return runRequests(c, false)
}

func publishAction(c *cli.Context) error {
	return runRequests(c, true)
}

func runRequests(c *cli.Context, publish bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	reqs, err := selectRequests(cfg, c.StringSlice(requestFlag.Name))
	if err != nil {
		return err
	}
	if publish {
		if cfg.KeyFile == "" {
			return fmt.Errorf("%w: publish needs --%s", errUsage, keyFileFlag.Name)
		}
		for _, r := range reqs {
			if r.Destination == (common.Address{}) {
				return fmt.Errorf("%w: request %q has no destination", errUsage, r.Name)
			}
		}
	}

	ctx := c.Context
	reader, err := witness.DialRPC(ctx, cfg.RPC)
	if err != nil {
		return err
	}
	defer reader.Close()

	exec, closeExec, err := newExecutor(ctx, cfg, reqs)
	if err != nil {
		return err
	}
	defer closeExec()

	var sub submit.Submitter
	if publish {
		key, err := crypto.LoadECDSA(cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("load key: %w", err)
		}
		eth := submit.NewEth(ethclient.NewClient(reader.Client()), key, cfg.ReceiptTimeout)
		log.Info("Publishing metrics", "from", eth.From(), "requests", len(reqs))
		sub = eth
	}
	builder := commitment.NewBuilder(witness.NewCachedReader(reader, cfg.CacheSize), commitment.Config{AllowPending: cfg.AllowPending})
	p := pipeline.New(builder, exec, sub, cfg.Workers)
	return proveAll(ctx, p, reqs, c.String(outFlag.Name))
}

// proveAll runs reqs and writes an artifact file for every request that
// was proven, including those whose submission failed.
func proveAll(ctx context.Context, p *pipeline.Pipeline, reqs []*pipeline.Request, out string) error {
	failed := 0
	for _, res := range p.RunAll(ctx, reqs) {
		if res.Artifact != nil {
			path, err := writeArtifact(out, newArtifactFile(res.Request.Name, res.Record, res.Artifact))
			if err != nil {
				return err
			}
			log.Info("Wrote artifact", "name", res.Request.Name, "path", path)
		}
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRequestsFailed, failed, len(reqs))
	}
	return nil
}

// selectRequests returns the configured requests, restricted to names when
// any are given.
func selectRequests(cfg *config.Config, names []string) ([]*pipeline.Request, error) {
	all, err := cfg.BuildRequests()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no requests configured", errUsage)
	}
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]*pipeline.Request, len(all))
	for _, r := range all {
		byName[r.Name] = r
	}
	reqs := make([]*pipeline.Request, 0, len(names))
	for _, n := range names {
		r, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: unknown request %q", errUsage, n)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// newExecutor registers a backend for every proof mode reqs use. The
// returned function releases remote connections.
func newExecutor(ctx context.Context, cfg *config.Config, reqs []*pipeline.Request) (*zkvm.Executor, func(), error) {
	var (
		backends []zkvm.ProverBackend
		seen     = make(map[types.ProofMode]bool)
		closer   = func() {}
	)
	for _, r := range reqs {
		if seen[r.Mode] {
			continue
		}
		seen[r.Mode] = true
		switch r.Mode {
		case types.ModeDev:
			backends = append(backends, zkvm.NewDevBackend())
		case types.ModeGroth16:
			b, err := loadKeys(cfg.KeyDir)
			if err != nil {
				return nil, nil, err
			}
			backends = append(backends, b)
		case types.ModeRemote:
			if cfg.Prover == "" {
				return nil, nil, fmt.Errorf("%w: request %q needs a prover endpoint", errUsage, r.Name)
			}
			vk, err := loadVerifyingKey(cfg.KeyDir)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, nil, err
			}
			b, err := zkvm.DialRemote(ctx, cfg.Prover, vk)
			if err != nil {
				return nil, nil, err
			}
			backends = append(backends, b)
			closer = b.Close
		}
	}
	return zkvm.NewExecutor(backends...), closer, nil
}

func loadKeys(dir string) (*zkvm.Groth16Backend, error) {
	pk, err := os.Open(filepath.Join(dir, provingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("proving key: %w (run metricproof setup)", err)
	}
	defer pk.Close()
	vk, err := os.Open(filepath.Join(dir, verifyingKeyFile))
	if err != nil {
		return nil, fmt.Errorf("verifying key: %w", err)
	}
	defer vk.Close()
	return zkvm.LoadGroth16(pk, vk)
}

func loadVerifyingKey(dir string) (*zkvm.Groth16Verifier, error) {
	f, err := os.Open(filepath.Join(dir, verifyingKeyFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return zkvm.ReadGroth16Verifier(f)
}

func setupAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	start := time.Now()
	b, err := zkvm.SetupGroth16()
	if err != nil {
		return err
	}
	if err := writeKeys(cfg.KeyDir, b); err != nil {
		return err
	}
	log.Info("Wrote Groth16 keys", "dir", cfg.KeyDir, "elapsed", common.PrettyDuration(time.Since(start)))
	return nil
}

func writeKeys(dir string, b *zkvm.Groth16Backend) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	pk, err := os.Create(filepath.Join(dir, provingKeyFile))
	if err != nil {
		return err
	}
	defer pk.Close()
	vk, err := os.Create(filepath.Join(dir, verifyingKeyFile))
	if err != nil {
		return err
	}
	defer vk.Close()
	if err := b.WriteKeys(pk, vk); err != nil {
		return err
	}
	if err := pk.Close(); err != nil {
		return err
	}
	return vk.Close()
}

func verifyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		return fmt.Errorf("%w: no artifact files given", errUsage)
	}
	reqs, err := selectRequests(cfg, nil)
	if err != nil {
		return err
	}
	vk, err := loadVerifyingKey(cfg.KeyDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Warn("No verifying key, only development seals can be checked", "dir", cfg.KeyDir)
	}

	ctx := c.Context
	client, err := rpc.DialContext(ctx, cfg.RPC)
	if err != nil {
		return err
	}
	defer client.Close()
	eth := ethclient.NewClient(client)

	store, err := rawdb.Open(cfg.ResolvePath(verifierDB))
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := verifier.New(cfg.Verifier, light.NewHeaderOracle(eth, cfg.Verifier.MaxAge()), store, vk)
	if err != nil {
		return err
	}
	if err := bindParams(v, reqs); err != nil {
		return err
	}
	head, err := eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	tx := verifier.TxContext{Height: head.Number.Uint64() + 1, Time: head.Time + submit.BlockTime}
	return verifyFiles(v, tx, c.Args().Slice())
}

// bindParams binds the parameter set of every configured request.
func bindParams(v *verifier.Verifier, reqs []*pipeline.Request) error {
	for _, r := range reqs {
		if err := v.BindParams(r.Kind, r.Params); err != nil {
			return fmt.Errorf("request %q: %w", r.Name, err)
		}
	}
	return nil
}

// verifyFiles submits every artifact file to v in the given block.
func verifyFiles(v *verifier.Verifier, tx verifier.TxContext, paths []string) error {
	failed := 0
	for _, path := range paths {
		f, err := readArtifact(path)
		if err != nil {
			return err
		}
		a, err := f.artifact()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		req, err := v.Submit(verifier.SubmissionOf(a), tx)
		if err != nil {
			log.Error("Artifact rejected", "file", path, "status", statusOf(req), "err", err)
			failed++
			continue
		}
		log.Info("Artifact verified", "file", path, "kind", req.Metric.Record.Kind, "seq", req.Metric.Seq,
			"journal", req.JournalHash)
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRequestsFailed, failed, len(paths))
	}
	return nil
}

func statusOf(req *verifier.Request) types.Status {
	if req == nil {
		return types.StatusRejected
	}
	return req.Status
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b, err := loadKeys(cfg.KeyDir)
	if err != nil {
		return err
	}
	srv := rpc.NewServer()
	if err := srv.RegisterName(zkvm.ProverNamespace, zkvm.NewProverService(b)); err != nil {
		return err
	}
	defer srv.Stop()

	ln, err := net.Listen("tcp", c.String(listenFlag.Name))
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(metrics.PrometheusPath, metrics.Handler())
	mux.Handle("/", srv)
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Info("Proving service started", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-c.Context.Done():
		log.Info("Proving service stopping")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
}
