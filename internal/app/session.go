package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/keg/internal/bottle"
	"github.com/blackwell-systems/keg/internal/brew"
	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/config"
	"github.com/blackwell-systems/keg/internal/formula"
	"github.com/blackwell-systems/keg/internal/installer"
	"github.com/blackwell-systems/keg/internal/linker"
	"github.com/blackwell-systems/keg/internal/logging"
	"github.com/blackwell-systems/keg/internal/output"
	"github.com/blackwell-systems/keg/internal/relocate"
	"github.com/blackwell-systems/keg/internal/snapshots"
	"github.com/blackwell-systems/keg/internal/store"
)

// session is everything one command invocation works with. Collaborators
// that talk to the network are built eagerly but only used on demand.
type session struct {
	cfg        *config.Config
	cellar     *cellar.Cellar
	linker     *linker.Linker
	client     *formula.Client
	downloader *bottle.Downloader
	delegate   *brew.Delegate
	manager    *installer.Manager
	aliases    *config.AliasConfig

	// store and snaps are nil when the state directory is unusable or
	// history is disabled.
	store *store.Store
	snaps *snapshots.Manager

	log zerolog.Logger
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if prefixFlag != "" {
		cfg.Prefix = prefixFlag
	}
	if noColorFlag {
		cfg.NoColor = true
	}
	if verboseFlag > cfg.Verbosity {
		cfg.Verbosity = verboseFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession loads configuration and wires the orchestrator.
func openSession() (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logging.SetupLogger(cfg.Verbosity, cfg.NoColor, cfg.LogPath())
	if cfg.NoColor {
		output.DisableColor()
	}
	logger := logging.GetLogger("app")

	platform := cfg.Platform
	if platform == "" {
		platform = formula.DetectPlatform()
	}

	c := cellar.New(cfg.Prefix, logging.GetLogger("cellar"))
	l := linker.New(cfg.Prefix, c.Path(), linker.Options{Skip: cfg.LinkSkip, Logger: logging.GetLogger("linker")})
	client := formula.NewClient(cfg.APIURL, cfg.Timeout, logging.GetLogger("formula"))
	dl := bottle.NewDownloader(client.DownloadClient(), cfg.CacheDir, platform, logging.GetLogger("bottle"))
	delegate := brew.New(cfg.BrewPath, logging.GetLogger("brew"))

	aliases, err := config.LoadAliases(config.Dir())
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring unreadable aliases file")
	}

	s := &session{
		cfg:        cfg,
		cellar:     c,
		linker:     l,
		client:     client,
		downloader: dl,
		delegate:   delegate,
		aliases:    aliases,
		log:        logger,
	}

	var recorder installer.Recorder
	if cfg.History {
		if st, err := store.Open(cfg.DBPath()); err != nil {
			logger.Warn().Err(err).Str("path", cfg.DBPath()).Msg("History disabled")
		} else {
			s.store = st
			s.snaps = snapshots.New(st, cfg.SnapshotDir(), Version, logging.GetLogger("snapshots"))
			recorder = store.NewRecorder(st, logging.GetLogger("store"))
		}
	}

	s.manager = installer.New(installer.Options{
		Cellar:       c,
		Linker:       l,
		Fetcher:      client,
		Downloader:   dl,
		Extractor:    bottle.NewExtractor(c.Path(), logging.GetLogger("bottle")),
		Relocator:    relocate.New(cfg.Prefix, c.Path(), relocate.Options{Logger: logging.GetLogger("relocate")}),
		Delegate:     delegate,
		Recorder:     recorder,
		Parallel:     cfg.Parallel,
		IncludeBuild: cfg.BuildDependencies,
		ToolVersion:  Version,
		Logger:       logging.GetLogger("installer"),
	})
	return s, nil
}

// Close releases the history database.
func (s *session) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// names applies user aliases to command arguments.
func (s *session) names(args []string) []string {
	if s.aliases == nil {
		return args
	}
	return s.aliases.Resolve(args)
}

// requireStore fails commands that cannot work without history.
func (s *session) requireStore() error {
	if s.store == nil {
		return fmt.Errorf("history database unavailable at %s (is history disabled?)", s.cfg.DBPath())
	}
	return nil
}

// snapshot records pkgs before a destructive operation. Failures are
// logged and never block the operation.
func (s *session) snapshot(pkgs []cellar.InstalledPackage, reason string) {
	if s.snaps == nil || len(pkgs) == 0 {
		return
	}
	id, err := s.snaps.CreateSnapshot(pkgs, reason)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to create snapshot")
		return
	}
	s.log.Info().Int64("snapshot", id).Str("reason", reason).Msg("Created snapshot")
	if n, err := s.snaps.CleanupOldSnapshots(); err == nil && n > 0 {
		s.log.Debug().Int("removed", n).Msg("Pruned old snapshot files")
	}
}

// withDownloadProgress shows a progress line on stderr while fn runs.
func (s *session) withDownloadProgress(fn func()) {
	p := output.NewDownloadProgress()
	s.downloader.Progress = p.Update
	defer func() {
		s.downloader.Progress = nil
		p.Finish()
	}()
	fn()
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// formatFlag parses a command's --format value.
func formatFlag(cmd *cobra.Command) (output.Format, error) {
	f, _ := cmd.Flags().GetString("format")
	return output.ParseFormat(f)
}

// itemFailures turns a batch's item errors into the command error. The
// items themselves were already printed.
func itemFailures(failed, total int, verb string) error {
	if failed == 0 {
		return nil
	}
	if total == 1 {
		return fmt.Errorf("%s failed", verb)
	}
	return fmt.Errorf("%s failed for %d of %d formulae", verb, failed, total)
}

// joinNames renders a list of names for messages.
func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
