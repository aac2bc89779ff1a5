package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/cyclopsctl/internal/notify"
	"github.com/danmuck/cyclopsctl/internal/stimulator"
	"github.com/rs/zerolog/log"
)

// Capture snapshots the registry's sessions and hooks as a Workspace.
func Capture(r *stimulator.Registry) Workspace {
	var ws Workspace
	for _, s := range r.Sessions() {
		p := s.Params()
		ws.Sessions = append(ws.Sessions, SessionEntry{ID: s.ID(), Device: p.Device, BaudRate: p.BaudRate})
	}
	for _, h := range r.Hooks() {
		ws.Hooks = append(ws.Hooks, HookEntry{ID: h.ID, Session: h.SessionID, Plugin: h.Plugin, Channel: h.Channel})
	}
	return ws
}

// Restore opens one session per entry and creates, binds and configures
// every hook, building observers with newObserver. Entry ids are remapped to
// the ids the registry assigns. Connect failures leave the session
// disconnected and are returned joined after every entry has been applied.
// Any other failure undoes the sessions and hooks created so far.
func Restore(ctx context.Context, r *stimulator.Registry, ws Workspace, newObserver func(hookID int) notify.Observer) (map[int]int, error) {
	if err := ValidateWorkspace(ws); err != nil {
		return nil, err
	}
	for _, entry := range ws.Hooks {
		if _, ok := r.Hook(entry.ID); ok {
			return nil, fmt.Errorf("hook %d: %w", entry.ID, stimulator.ErrHookExists)
		}
		if entry.Plugin != "" {
			if _, err := r.Catalog().Resolve(entry.Plugin); err != nil {
				return nil, fmt.Errorf("hook %d: %w", entry.ID, err)
			}
		}
	}

	ids := make(map[int]int, len(ws.Sessions))
	var errs []error
	for _, entry := range ws.Sessions {
		s := r.OpenSession()
		ids[entry.ID] = s.ID()
		if entry.Device == "" && entry.BaudRate == 0 {
			continue
		}
		if err := s.ApplyParams(ctx, stimulator.Params{Device: entry.Device, BaudRate: entry.BaudRate}); err != nil {
			log.Warn().Err(err).Int("session_id", s.ID()).Str("device", entry.Device).Msg("config.Restore session connect failed")
			errs = append(errs, fmt.Errorf("session %d: %w", entry.ID, err))
		}
	}
	var created []int
	for _, entry := range ws.Hooks {
		if err := restoreHook(r, entry, ids, newObserver, &created); err != nil {
			rollback(r, ids, created)
			return nil, fmt.Errorf("hook %d: %w", entry.ID, err)
		}
	}
	log.Info().Int("sessions", len(ws.Sessions)).Int("hooks", len(ws.Hooks)).Msg("config.Restore")
	return ids, errors.Join(errs...)
}

func restoreHook(r *stimulator.Registry, entry HookEntry, ids map[int]int, newObserver func(hookID int) notify.Observer, created *[]int) error {
	if _, err := r.CreateHook(entry.ID, newObserver(entry.ID)); err != nil {
		return err
	}
	*created = append(*created, entry.ID)
	if err := r.SetChannel(entry.ID, entry.Channel); err != nil {
		return err
	}
	if entry.Session != notify.NoSession {
		if err := r.Bind(entry.ID, ids[entry.Session]); err != nil {
			return err
		}
	}
	if entry.Plugin != "" {
		return r.SelectPlugin(entry.ID, entry.Plugin)
	}
	return nil
}

func rollback(r *stimulator.Registry, ids map[int]int, created []int) {
	for _, id := range created {
		if err := r.Drop(id); err != nil {
			log.Error().Err(err).Int("hook_id", id).Msg("config.Restore rollback drop failed")
			continue
		}
		if err := r.RemoveHook(id); err != nil {
			log.Error().Err(err).Int("hook_id", id).Msg("config.Restore rollback remove failed")
		}
	}
	for _, sid := range ids {
		if err := r.CloseSession(sid); err != nil {
			log.Error().Err(err).Int("session_id", sid).Msg("config.Restore rollback close failed")
		}
	}
	log.Warn().Int("hooks", len(created)).Int("sessions", len(ids)).Msg("config.Restore rolled back")
}
