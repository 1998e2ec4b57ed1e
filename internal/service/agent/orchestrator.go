package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/kiosk-agent/internal/backend"
	"github.com/oshokin/kiosk-agent/internal/compose"
	"github.com/oshokin/kiosk-agent/internal/config"
	domain "github.com/oshokin/kiosk-agent/internal/domain/update"
	"github.com/oshokin/kiosk-agent/internal/logger"
	repository "github.com/oshokin/kiosk-agent/internal/repository/versions"
)

// defaultTag is the tag the fleet publishes both workload images under.
const defaultTag = "latest"

// Backend abstracts the fleet backend operations the orchestrator depends on.
type Backend interface {
	RegistryToken(ctx context.Context) (string, error)
	IsUpdateAllowed(ctx context.Context) bool
	ReportVersions(ctx context.Context, report backend.VersionReport) error
	Close()
}

// Registry abstracts the container registry HTTP API.
type Registry interface {
	SetToken(token string)
	ImageDigest(ctx context.Context, image, tag string) (string, error)
	Close()
}

// ContainerRuntime abstracts the container engine operations the orchestrator drives.
type ContainerRuntime interface {
	Login(ctx context.Context, registryHost, user, token string) error
	Pull(ctx context.Context, image, tag string) error
	RemoteDigestNoCache(ctx context.Context, image, tag string) (string, error)
	RemoteDigestManifest(ctx context.Context, image, tag string) (string, error)
	RestartService(ctx context.Context, service string) error
	IsContainerRunning(ctx context.Context, name string) bool
	ComposeUpDetached(ctx context.Context, services []string, forceRecreate bool) error
}

// orchestrator ties the backend, registry, container runtime and version
// store together and drives the update and reconciliation cycles.
// It is unexported to keep the command entry as the only way in.
type orchestrator struct {
	// cfg holds the validated agent settings.
	cfg *config.Config
	// backend talks to the fleet control plane.
	backend Backend
	// registry resolves digests through the registry HTTP API.
	registry Registry
	// runtime drives the container engine.
	runtime ContainerRuntime
	// store persists applied digests across restarts.
	store repository.Repository

	// registryHost is the registry the workload images are published on,
	// derived from the device image reference.
	registryHost string
	// versions is the in-memory copy of the applied digests.
	versions *domain.Versions
	// auth tracks whether the runtime holds working registry credentials.
	auth domain.AuthState
	// pendingSelfUpdate marks that a new agent image is pulled and the
	// container recreate is deferred to the next configuration sync.
	pendingSelfUpdate bool
}

// newOrchestrator wires the collaborators and loads the stored versions.
// A missing or unreadable version file starts the agent with an empty record.
func newOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	backendClient Backend,
	registryClient Registry,
	runtime ContainerRuntime,
	store repository.Repository,
) (*orchestrator, error) {
	host, err := registryHost(cfg.DeviceImage)
	if err != nil {
		return nil, err
	}

	o := &orchestrator{
		cfg:          cfg,
		backend:      backendClient,
		registry:     registryClient,
		runtime:      runtime,
		store:        store,
		registryHost: host,
		versions:     new(domain.Versions),
	}

	record, err := store.Load(ctx)
	switch {
	case err == nil:
		o.versions = record
	case errors.Is(err, repository.ErrNotFound):
		logger.Info(ctx, "No stored versions, starting fresh")
	default:
		logger.WarnKV(ctx, "Failed to load stored versions, starting fresh", "error", err)
	}

	return o, nil
}

// run blocks until the context is canceled, driving three cadences off one
// ticker: the liveness check every tick, the update check and the
// configuration sync when their intervals elapse.
func (o *orchestrator) run(ctx context.Context) error {
	logger.InfoKV(ctx, "Agent starting",
		"health_check_interval", o.cfg.HealthCheckInterval.String(),
		"update_check_interval", o.cfg.UpdateCheckInterval.String(),
		"config_sync_interval", o.cfg.ConfigSyncInterval.String(),
		"compose_file", o.cfg.ComposeFilePath)

	if o.cfg.Debug {
		logger.Info(ctx, "Debug mode enabled, using shortened intervals")
	}

	// A failed bootstrap is not fatal: the loop below retries the pieces.
	if err := o.bootstrap(ctx); err != nil {
		logger.ErrorKV(ctx, "Bootstrap failed, continuing with reconciliation loop", "error", err)
	}

	// The zero value makes the first tick run an update check immediately;
	// the configuration sync waits a full interval after bootstrap.
	var lastUpdateCheck time.Time

	lastConfigSync := time.Now()

	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			o.cycle(ctx, &lastUpdateCheck, &lastConfigSync)
		}
	}
}

// cycle runs one tick of the loop. Errors are logged and swallowed so a bad
// cycle never stops the agent.
func (o *orchestrator) cycle(ctx context.Context, lastUpdateCheck, lastConfigSync *time.Time) {
	if err := o.ensureWorkloadsRunning(ctx); err != nil {
		logger.WarnKV(ctx, "Reconciliation failed", "error", err)
	}

	now := time.Now()

	if now.Sub(*lastUpdateCheck) >= o.cfg.UpdateCheckInterval {
		if o.runOnce(ctx) {
			logger.Info(ctx, "Update cycle applied changes")
		}

		*lastUpdateCheck = now
	}

	if now.Sub(*lastConfigSync) >= o.cfg.ConfigSyncInterval {
		if err := o.syncConfig(ctx); err != nil {
			logger.WarnKV(ctx, "Configuration sync failed", "error", err)
		}

		*lastConfigSync = now
	}
}

// bootstrap brings the device to a known-good state on startup: apply a
// pending device update or start the stack, then record what is published.
func (o *orchestrator) bootstrap(ctx context.Context) error {
	logger.Info(ctx, "Bootstrapping device")

	services, err := compose.Load(o.cfg.ComposeFilePath)
	if err != nil {
		return fmt.Errorf("load compose file: %w", err)
	}

	if !services.HasService(compose.DeviceServiceName) {
		logger.WarnKV(ctx, "Compose file does not define the device service",
			"path", o.cfg.ComposeFilePath)
	}

	newDigest, err := o.checkUpdate(ctx, domain.WorkloadDevice)
	if err != nil {
		logger.WarnKV(ctx, "Bootstrap update check failed", "error", err)
	}

	if newDigest != "" {
		if err = o.applyDeviceUpdate(ctx, newDigest); err != nil {
			logger.WarnKV(ctx, "Bootstrap device update failed", "error", err)
		}
	} else {
		deviceContainer := services.ContainerName(compose.DeviceServiceName)
		if !o.runtime.IsContainerRunning(ctx, deviceContainer) {
			logger.InfoKV(ctx, "Device container is not running, pulling image", "container", deviceContainer)

			if err = o.pullWithFallback(ctx, o.cfg.DeviceImage, defaultTag); err != nil {
				logger.WarnKV(ctx, "Bootstrap pull failed, starting anyway", "error", err)
			}
		}

		// Detached start keeps the stack coming up even if the agent's own
		// container is recreated along the way.
		if err = o.runtime.ComposeUpDetached(ctx, services.ServiceNames(), false); err != nil {
			return fmt.Errorf("start services: %w", err)
		}
	}

	o.captureRemoteDigests(ctx)

	logger.Info(ctx, "Bootstrap complete")

	return nil
}

// captureRemoteDigests records and reports the currently published digests so
// later cycles compare against what this agent actually observed.
func (o *orchestrator) captureRemoteDigests(ctx context.Context) {
	var report backend.VersionReport

	if digest, err := o.remoteDigest(ctx, o.cfg.DeviceImage, defaultTag); err == nil {
		o.versions.SetDigest(domain.WorkloadDevice, digest)
		report.Device = digest
	} else {
		logger.WarnKV(ctx, "Could not resolve device digest", "error", err)
	}

	if digest, err := o.remoteDigest(ctx, o.cfg.AgentImage, defaultTag); err == nil {
		o.versions.SetDigest(domain.WorkloadAgent, digest)
		report.Agent = digest
	} else {
		logger.WarnKV(ctx, "Could not resolve agent digest", "error", err)
	}

	o.saveVersions(ctx)
	o.report(ctx, report)
}

// runOnce performs one update check for both workloads, device first.
// The whole check is skipped outside the maintenance windows.
// It reports whether any update was applied.
func (o *orchestrator) runOnce(ctx context.Context) bool {
	if !o.backend.IsUpdateAllowed(ctx) {
		logger.Debug(ctx, "Outside update window, skipping update check")
		return false
	}

	updated := false

	newDigest, err := o.checkUpdate(ctx, domain.WorkloadDevice)
	switch {
	case err != nil:
		logger.WarnKV(ctx, "Device update check failed", "error", err)
	case newDigest != "":
		if err = o.applyDeviceUpdate(ctx, newDigest); err != nil {
			logger.ErrorKV(ctx, "Device update failed", "error", err)
		} else {
			updated = true
		}
	}

	newDigest, err = o.checkUpdate(ctx, domain.WorkloadAgent)
	switch {
	case err != nil:
		logger.WarnKV(ctx, "Agent update check failed", "error", err)
	case newDigest != "":
		outcome, selfErr := o.applySelfUpdate(ctx, newDigest)
		if selfErr != nil {
			logger.ErrorKV(ctx, "Agent update failed", "error", selfErr)
		} else {
			logger.InfoKV(ctx, "Agent update staged", "outcome", outcome.String())

			updated = true
		}
	}

	return updated
}

// checkUpdate resolves the published digest for the workload and compares it
// with the applied one. It returns the new digest, or "" when up to date.
func (o *orchestrator) checkUpdate(ctx context.Context, workload domain.Workload) (string, error) {
	remote, err := o.remoteDigest(ctx, o.image(workload), defaultTag)
	if err != nil {
		return "", fmt.Errorf("resolve %s digest: %w", workload, err)
	}

	current := o.versions.Digest(workload)
	if current == remote {
		logger.DebugKV(ctx, "Workload is up to date", "workload", workload, "digest", remote)
		return "", nil
	}

	logger.InfoKV(ctx, "Update available", "workload", workload, "current", current, "remote", remote)

	return remote, nil
}

// applyDeviceUpdate pulls the new device image, recreates the device service
// and records the applied digest.
func (o *orchestrator) applyDeviceUpdate(ctx context.Context, newDigest string) error {
	logger.InfoKV(ctx, "Updating device workload", "digest", newDigest)

	if err := o.pullWithFallback(ctx, o.cfg.DeviceImage, defaultTag); err != nil {
		return err
	}

	if err := o.runtime.RestartService(ctx, compose.DeviceServiceName); err != nil {
		return fmt.Errorf("restart device service: %w", err)
	}

	o.recordDigest(ctx, domain.WorkloadDevice, newDigest)

	logger.Info(ctx, "Device workload updated")

	return nil
}

// applySelfUpdate pulls the new agent image and defers the container recreate
// to the next configuration sync. Recreating our own container from inside it
// would kill the update mid-flight.
func (o *orchestrator) applySelfUpdate(ctx context.Context, newDigest string) (domain.SelfUpdateOutcome, error) {
	logger.InfoKV(ctx, "Updating agent workload", "digest", newDigest)

	if err := o.pullWithFallback(ctx, o.cfg.AgentImage, defaultTag); err != nil {
		return domain.SelfUpdateNone, err
	}

	o.recordDigest(ctx, domain.WorkloadAgent, newDigest)
	o.pendingSelfUpdate = true

	return domain.SelfUpdateDeferred, nil
}

// ensureWorkloadsRunning recreates managed services whose containers are down.
// The agent's own service is never part of this check.
func (o *orchestrator) ensureWorkloadsRunning(ctx context.Context) error {
	services, err := compose.Load(o.cfg.ComposeFilePath)
	if err != nil {
		return fmt.Errorf("load compose file: %w", err)
	}

	var down []string

	for _, service := range services.ManagedServices() {
		container := services.ContainerName(service)
		if o.runtime.IsContainerRunning(ctx, container) {
			continue
		}

		logger.WarnKV(ctx, "Container is not running", "container", container, "service", service)

		down = append(down, service)
	}

	if len(down) == 0 {
		return nil
	}

	logger.InfoKV(ctx, "Recreating services", "services", strings.Join(down, ", "))

	// Force recreate clears naming conflicts left by half-removed containers.
	return o.runtime.ComposeUpDetached(ctx, down, true)
}

// syncConfig reapplies the compose file to the whole stack so edits to it
// reach running containers. A pending agent update is applied here through a
// force recreate; the flag survives a failed sync to retry later.
func (o *orchestrator) syncConfig(ctx context.Context) error {
	services, err := compose.Load(o.cfg.ComposeFilePath)
	if err != nil {
		return fmt.Errorf("load compose file: %w", err)
	}

	if o.pendingSelfUpdate {
		logger.Info(ctx, "Syncing compose configuration with agent recreate")
	} else {
		logger.Info(ctx, "Syncing compose configuration")
	}

	if err = o.runtime.ComposeUpDetached(ctx, services.ServiceNames(), o.pendingSelfUpdate); err != nil {
		return err
	}

	o.pendingSelfUpdate = false

	return nil
}

// recordDigest stores the applied digest and reports it to the backend.
// Both are best effort: a dead disk or backend must not undo a completed update.
func (o *orchestrator) recordDigest(ctx context.Context, workload domain.Workload, newDigest string) {
	o.versions.SetDigest(workload, newDigest)
	o.saveVersions(ctx)

	var report backend.VersionReport

	if workload == domain.WorkloadAgent {
		report.Agent = newDigest
	} else {
		report.Device = newDigest
	}

	o.report(ctx, report)
}

// saveVersions persists the in-memory record, logging instead of failing.
func (o *orchestrator) saveVersions(ctx context.Context) {
	if err := o.store.Save(ctx, o.versions); err != nil {
		logger.ErrorKV(ctx, "Failed to persist versions", "error", err)
	}
}

// report sends applied versions to the backend, logging instead of failing.
func (o *orchestrator) report(ctx context.Context, report backend.VersionReport) {
	if err := o.backend.ReportVersions(ctx, report); err != nil {
		logger.WarnKV(ctx, "Failed to report versions", "error", err)
	}
}

// image returns the configured image reference for the workload.
func (o *orchestrator) image(workload domain.Workload) string {
	if workload == domain.WorkloadAgent {
		return o.cfg.AgentImage
	}

	return o.cfg.DeviceImage
}

// close releases the HTTP clients.
func (o *orchestrator) close() {
	o.backend.Close()
	o.registry.Close()
}
