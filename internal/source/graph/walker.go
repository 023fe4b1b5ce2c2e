package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"teams_archiver/internal/domain"
)

// Walker enumerates the Teams hierarchy (team, channel, file tree) and
// emits one descriptor per file. It also serves as the content source for
// the transfer stage, since both sides speak to the same API.
type Walker struct {
	client *Client
	logger *slog.Logger
}

func NewWalker(client *Client, logger *slog.Logger) *Walker {
	return &Walker{
		client: client,
		logger: logger.With("component", "walker"),
	}
}

// Walk enumerates every joined team. A single team failing to enumerate
// is logged and skipped; the walk aborts only on cancellation, credential
// expiry, or when the team list itself is unreachable.
func (w *Walker) Walk(ctx context.Context, emit func(domain.RemoteFile) error) error {
	teams, err := w.client.ListJoinedTeams(ctx)
	if err != nil {
		return fmt.Errorf("list joined teams: %w", err)
	}
	w.logger.Info("discovered teams", "count", len(teams))

	for _, team := range teams {
		if err := w.walkTeam(ctx, team, emit); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCredentialExpired) {
				return err
			}
			w.logger.Error("team walk failed", "team", team.DisplayName, "error", err)
		}
	}
	return nil
}

// Open streams a file's bytes for transfer.
func (w *Walker) Open(ctx context.Context, file domain.RemoteFile) (io.ReadCloser, error) {
	return w.client.Download(ctx, file.DriveID, file.ID)
}

func (w *Walker) walkTeam(ctx context.Context, team Team, emit func(domain.RemoteFile) error) error {
	w.logger.Info("walking team", "team", team.DisplayName)

	owner := w.detectOwner(ctx, team)

	channels, err := w.client.ListChannels(ctx, team.ID)
	if err != nil {
		// Education tenants restrict the channels list for student-role
		// members; the primary channel is always accessible.
		if !IsStatus(err, http.StatusForbidden) {
			return fmt.Errorf("list channels: %w", err)
		}
		primary, perr := w.client.GetPrimaryChannel(ctx, team.ID)
		if perr != nil {
			return fmt.Errorf("primary channel fallback: %w", perr)
		}
		channels = []Channel{*primary}
	}

	for _, channel := range channels {
		if err := w.walkChannel(ctx, team, channel, owner, emit); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCredentialExpired) {
				return err
			}
			w.logger.Error("channel walk failed",
				"team", team.DisplayName,
				"channel", channel.DisplayName,
				"error", err,
			)
		}
	}
	return nil
}

func (w *Walker) walkChannel(ctx context.Context, team Team, channel Channel, owner *domain.RemoteOwner, emit func(domain.RemoteFile) error) error {
	root, err := w.client.GetFilesFolder(ctx, team.ID, channel.ID)
	if err != nil {
		return fmt.Errorf("files folder: %w", err)
	}
	if root.ParentReference == nil {
		return fmt.Errorf("files folder for channel %s has no drive reference", channel.ID)
	}

	offering := domain.RemoteOffering{
		ChannelID:   channel.ID,
		ChannelName: channel.DisplayName,
		TeamID:      team.ID,
		TeamName:    team.DisplayName,
		Owner:       owner,
	}

	// Breadth-first over the drive tree.
	driveID := root.ParentReference.DriveID
	queue := []string{root.ID}
	for len(queue) > 0 {
		itemID := queue[0]
		queue = queue[1:]

		children, err := w.client.ListDriveChildren(ctx, driveID, itemID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCredentialExpired) {
				return err
			}
			w.logger.Error("folder listing failed", "item_id", itemID, "error", err)
			continue
		}

		for _, child := range children {
			switch {
			case child.Folder != nil:
				queue = append(queue, child.ID)
			case child.File != nil:
				if err := emit(transform(child, driveID, offering)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// detectOwner finds the first team owner, usually the professor in an
// education tenant. Membership being unreadable is not fatal.
func (w *Walker) detectOwner(ctx context.Context, team Team) *domain.RemoteOwner {
	members, err := w.client.ListTeamMembers(ctx, team.ID)
	if err != nil {
		w.logger.Warn("could not fetch team members", "team", team.DisplayName, "error", err)
		return nil
	}
	for _, m := range members {
		for _, role := range m.Roles {
			if role == "owner" {
				email := m.Email
				if email == "" {
					email = m.UserID
				}
				return &domain.RemoteOwner{Name: m.DisplayName, Email: email}
			}
		}
	}
	return nil
}

func transform(item DriveItem, driveID string, offering domain.RemoteOffering) domain.RemoteFile {
	// Some tenants omit eTags; fall back to the stable id so the file is
	// fetched once and never refreshed.
	fingerprint := item.ETag
	if fingerprint == "" {
		fingerprint = item.ID
	}

	extension := strings.ToLower(strings.TrimPrefix(path.Ext(item.Name), "."))
	if extension == "" {
		extension = "bin"
	}

	return domain.RemoteFile{
		ID:          item.ID,
		Fingerprint: fingerprint,
		Name:        item.Name,
		Extension:   extension,
		Size:        item.Size,
		DriveID:     driveID,
		Offering:    offering,
	}
}
