package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// maxUsernameLength is the longest name the remote accepts for an account.
const maxUsernameLength = 255

// invalidUsernameChars may not appear in a registered username.
const invalidUsernameChars = "#<>[]|{}/@:%\n\t"

// ReconcileContext holds everything the reconciler learns during one run.
// It must not outlive the run: remote names can change between runs.
type ReconcileContext struct {
	byRemoteID map[int64]*models.Actor
	byIP       map[string]*models.Actor
	lookups    map[int64]*remote.UserInfo
	lookupN    int
	renames    int
	created    int
}

// NewReconcileContext returns an empty per-run context.
func NewReconcileContext() *ReconcileContext {
	return &ReconcileContext{
		byRemoteID: make(map[int64]*models.Actor),
		byIP:       make(map[string]*models.Actor),
		lookups:    make(map[int64]*remote.UserInfo),
	}
}

// IdentityReconciler maps (remote user id, remote name) pairs to local
// actors, following remote renames.
type IdentityReconciler struct {
	store  ActorStore
	users  UserLookup
	rc     *ReconcileContext
	logger *slog.Logger
}

// NewIdentityReconciler creates a reconciler with a fresh run context.
func NewIdentityReconciler(store ActorStore, users UserLookup, logger *slog.Logger) *IdentityReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityReconciler{
		store:  store,
		users:  users,
		rc:     NewReconcileContext(),
		logger: logger,
	}
}

// Lookups returns the number of remote user lookups issued in this run.
func (r *IdentityReconciler) Lookups() int { return r.rc.lookupN }

// Renames returns the number of actors renamed in this run.
func (r *IdentityReconciler) Renames() int { return r.rc.renames }

// Created returns the number of actors created in this run.
func (r *IdentityReconciler) Created() int { return r.rc.created }

// Resolve returns the local actor for a remote user. A zero remoteID denotes
// an anonymous editor identified only by remoteName.
func (r *IdentityReconciler) Resolve(ctx context.Context, remoteID int64, remoteName string) (*models.Actor, error) {
	if remoteID == 0 {
		return r.resolveAnonymous(remoteName)
	}
	if a, ok := r.rc.byRemoteID[remoteID]; ok {
		return a, nil
	}

	local, err := r.store.GetActorByRemoteID(remoteID)
	if err != nil {
		return nil, fmt.Errorf("get actor for user %d: %w", remoteID, err)
	}

	var actor *models.Actor
	if local == nil {
		actor, err = r.create(ctx, remoteID, remoteName)
	} else {
		actor, err = r.reconcile(ctx, local, remoteName)
	}
	if err != nil {
		return nil, err
	}
	r.rc.byRemoteID[remoteID] = actor
	return actor, nil
}

func (r *IdentityReconciler) resolveAnonymous(name string) (*models.Actor, error) {
	if name == "" {
		return nil, fmt.Errorf("anonymous actor without a name")
	}
	if a, ok := r.rc.byIP[name]; ok {
		return a, nil
	}

	// A registered account may hold the literal name. Anonymous edits never
	// join it; they go to imported>name, then imported>name~2 and so on.
	for n := 1; ; n++ {
		candidate := name
		switch {
		case n == 2:
			candidate = models.ImportedPrefix + name
		case n > 2:
			candidate = fmt.Sprintf("%s%s~%d", models.ImportedPrefix, name, n-1)
		}

		holder, err := r.store.GetActorByName(candidate)
		if err != nil {
			return nil, fmt.Errorf("get actor %q: %w", candidate, err)
		}
		if holder != nil && !(holder.IsIP && holder.RemoteUserID == 0) {
			continue
		}
		if holder == nil {
			holder = &models.Actor{Name: candidate, IsIP: true}
			if err := r.store.CreateActor(holder); err != nil {
				return nil, fmt.Errorf("create actor %q: %w", candidate, err)
			}
			r.rc.created++
			if candidate != name {
				r.logger.Info("anonymous actor name held by an account", "name", name, "using", candidate)
			}
		}
		r.rc.byIP[name] = holder
		return holder, nil
	}
}

// create registers a remote user seen for the first time.
func (r *IdentityReconciler) create(ctx context.Context, remoteID int64, remoteName string) (*models.Actor, error) {
	info, err := r.lookup(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	name := remoteName
	switch {
	case info != nil && !info.Missing && info.Name != "":
		name = info.Name
	case ValidUsername(remoteName):
		// Not registered remotely. Keep the name clear of a genuine local
		// account with the same spelling.
		name = models.ImportedPrefix + remoteName
	}
	if name == "" {
		return nil, fmt.Errorf("user %d has no name", remoteID)
	}

	name, err = r.freeName(name, 0)
	if err != nil {
		return nil, err
	}
	a := &models.Actor{Name: name, RemoteUserID: remoteID}
	if err := r.store.CreateActor(a); err != nil {
		return nil, fmt.Errorf("create actor %q: %w", name, err)
	}
	r.rc.created++
	r.logger.Debug("actor created", "remote_id", remoteID, "name", name, "actor_id", a.ID)
	return a, nil
}

// reconcile follows a remote rename of an already known user.
func (r *IdentityReconciler) reconcile(ctx context.Context, local *models.Actor, remoteName string) (*models.Actor, error) {
	if remoteName == "" || remoteName == local.Name {
		return local, nil
	}
	if local.Migrated && remoteName == local.MigratedFrom {
		// The pre-rename name echoed back by an older record.
		r.logger.Debug("rename skipped, stale name",
			"actor_id", local.ID, "local", local.Name, "remote", remoteName)
		return local, nil
	}

	info, err := r.lookup(ctx, local.RemoteUserID)
	if err != nil {
		return nil, err
	}
	current := remoteName
	if info != nil && !info.Missing && info.Name != "" {
		current = info.Name
	}
	if current == local.Name {
		return local, nil
	}

	target, err := r.freeName(current, local.ID)
	if err != nil {
		return nil, err
	}
	r.store.InvalidateActor(local.Name, target)
	renamed, err := r.store.RenameActor(local.ID, target)
	if err != nil {
		return nil, fmt.Errorf("rename actor %d to %q: %w", local.ID, target, err)
	}
	r.rc.renames++
	metrics.ActorRenames.Inc()
	r.logger.Info("actor renamed",
		"actor_id", local.ID, "remote_id", local.RemoteUserID, "from", local.Name, "to", target)
	return renamed, nil
}

// lookup fetches the authoritative account once per remote id per run.
// A missing account is returned as nil info, not an error.
func (r *IdentityReconciler) lookup(ctx context.Context, remoteID int64) (*remote.UserInfo, error) {
	if info, ok := r.rc.lookups[remoteID]; ok {
		return info, nil
	}
	r.rc.lookupN++
	metrics.UserLookups.Inc()

	info, err := r.users.UserByID(ctx, remoteID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return nil, fmt.Errorf("lookup user %d: %w", remoteID, err)
	}
	if info != nil && (info.Missing || info.Invalid) {
		info = nil
	}
	r.rc.lookups[remoteID] = info
	return info, nil
}

// freeName returns name, or name~N for the smallest N >= 2 that no other
// actor holds. self is the actor allowed to keep its own name.
func (r *IdentityReconciler) freeName(name string, self int64) (string, error) {
	candidate := name
	for n := 2; ; n++ {
		holder, err := r.store.GetActorByName(candidate)
		if err != nil {
			return "", fmt.Errorf("check actor name %q: %w", candidate, err)
		}
		if holder == nil || holder.ID == self {
			if candidate != name {
				r.logger.Info("actor name collision", "name", name, "using", candidate)
			}
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s~%d", name, n)
	}
}

// ValidUsername reports whether name is usable as a registered account
// name: non-empty, not an IP address and free of reserved characters.
func ValidUsername(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		return false
	}
	if strings.HasPrefix(name, models.ImportedPrefix) || strings.ContainsAny(name, invalidUsernameChars) {
		return false
	}
	if net.ParseIP(name) != nil {
		return false
	}
	return true
}
