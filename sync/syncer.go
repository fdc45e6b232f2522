package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marcelom97/scimcore/scim"
)

// Options tunes a Syncer.
type Options struct {
	// PageSize is the source read page size. Defaults to 100.
	PageSize int

	// Concurrency bounds the parallel upserts per page. Defaults to 4.
	Concurrency int

	// DeleteOrphans removes target users whose userName the source no
	// longer carries.
	DeleteOrphans bool

	Logger zerolog.Logger
}

// Stats counts what a sync run did.
type Stats struct {
	Created int
	Updated int
	Deleted int
}

// Syncer copies all users from a source SCIM service to a target one.
// Users are matched by userName; matched users are replaced, unmatched
// ones created, and optionally target users absent from the source are
// deleted afterwards.
type Syncer struct {
	source *Client
	target *Client
	opts   Options
	log    zerolog.Logger
}

// NewSyncer builds a syncer between two clients.
func NewSyncer(source, target *Client, opts Options) *Syncer {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Syncer{
		source: source,
		target: target,
		opts:   opts,
		log:    opts.Logger,
	}
}

// Run performs one full sync pass.
func (s *Syncer) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	var mu gosync.Mutex
	seen := make(map[string]bool)

	startIndex := 1
	for {
		page, err := s.source.ListUsers(ctx, startIndex, s.opts.PageSize)
		if err != nil {
			return stats, fmt.Errorf("list source users: %w", err)
		}
		if len(page.Resources) == 0 {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(s.opts.Concurrency)
		for _, user := range page.Resources {
			user := user
			group.Go(func() error {
				created, err := s.upsert(groupCtx, user)
				if err != nil {
					return err
				}
				mu.Lock()
				if userName := userNameOf(user); userName != "" {
					seen[strings.ToLower(userName)] = true
				}
				if created {
					stats.Created++
				} else {
					stats.Updated++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return stats, err
		}

		startIndex += len(page.Resources)
		if startIndex > page.TotalResults {
			break
		}
	}

	if s.opts.DeleteOrphans {
		deleted, err := s.deleteOrphans(ctx, seen)
		stats.Deleted = deleted
		if err != nil {
			return stats, err
		}
	}

	s.log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Msg("sync finished")
	return stats, nil
}

// upsert writes one source user to the target. Returns true when the
// user was created rather than replaced.
func (s *Syncer) upsert(ctx context.Context, user scim.Resource) (bool, error) {
	userName := userNameOf(user)
	if userName == "" {
		return false, fmt.Errorf("source user %v has no userName", user["id"])
	}

	outbound := scim.CloneResource(user)
	delete(outbound, "id")
	delete(outbound, "meta")

	existing, err := s.target.FindUserByUserName(ctx, userName)
	if err != nil {
		return false, fmt.Errorf("find %q on target: %w", userName, err)
	}

	if existing == nil {
		if _, err := s.target.CreateUser(ctx, outbound); err != nil {
			return false, fmt.Errorf("create %q on target: %w", userName, err)
		}
		s.log.Debug().Str("userName", userName).Msg("created user")
		return true, nil
	}

	id, _ := existing["id"].(string)
	if _, err := s.target.ReplaceUser(ctx, id, outbound); err != nil {
		return false, fmt.Errorf("replace %q on target: %w", userName, err)
	}
	s.log.Debug().Str("userName", userName).Msg("replaced user")
	return false, nil
}

// deleteOrphans pages through the target and deletes users the source
// run did not touch.
func (s *Syncer) deleteOrphans(ctx context.Context, seen map[string]bool) (int, error) {
	deleted := 0
	startIndex := 1
	for {
		page, err := s.target.ListUsers(ctx, startIndex, s.opts.PageSize)
		if err != nil {
			return deleted, fmt.Errorf("list target users: %w", err)
		}
		if len(page.Resources) == 0 {
			break
		}

		kept := 0
		for _, user := range page.Resources {
			userName := userNameOf(user)
			if userName == "" || seen[strings.ToLower(userName)] {
				kept++
				continue
			}
			id, _ := user["id"].(string)
			if err := s.target.DeleteUser(ctx, id); err != nil {
				return deleted, fmt.Errorf("delete orphan %q: %w", userName, err)
			}
			s.log.Debug().Str("userName", userName).Msg("deleted orphan")
			deleted++
		}

		// Deletions shift later pages down; only advance past what was
		// kept in place.
		startIndex += kept
		if startIndex > page.TotalResults-deleted {
			break
		}
	}
	return deleted, nil
}

func userNameOf(user scim.Resource) string {
	for key, value := range user {
		if strings.EqualFold(key, "userName") {
			str, _ := value.(string)
			return str
		}
	}
	return ""
}
