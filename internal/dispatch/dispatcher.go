// Package dispatch issues the remote mutations. Every operation is gated
// on an authenticated actor; none of them writes into the entity cache,
// the authoritative result arrives back through the subscription path.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/internal/domain"
	"github.com/mdmahbub/amarkotha/internal/mirror"
	"github.com/mdmahbub/amarkotha/policy"
	"github.com/mdmahbub/amarkotha/store"
)

// ActorSource supplies the acting identity, or domain.ErrAuthRequired.
type ActorSource interface {
	Actor() (*amarkotha.User, error)
}

// Analyzer annotates post text. Implementations never fail: they degrade
// to a fixed fallback internally.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (category amarkotha.PostCategory, suggestion string)
}

type Direction string

const (
	Upvote   Direction = "upvote"
	Downvote Direction = "downvote"
)

// Dispatcher fires mutations against the document store. Remote failures
// of vote/comment/edit/delete are logged and swallowed: no optimistic
// state was applied, so there is nothing to roll back, and the eventual
// state arrives via the subscription manager.
type Dispatcher struct {
	st       store.Store
	cache    *mirror.EntityCache
	session  ActorSource
	analyzer Analyzer
}

func New(st store.Store, cache *mirror.EntityCache, session ActorSource, analyzer Analyzer) *Dispatcher {
	return &Dispatcher{st: st, cache: cache, session: session, analyzer: analyzer}
}

// Vote applies the vote transition for the acting user on one post,
// expressed as field-level deltas so it composes with concurrent votes
// from other users:
//
//	same direction again      -> retract (counter-1, leave set)
//	fresh vote                -> apply (counter+1, join set)
//	had voted the other way   -> apply and retract the opposite together
//
// After the operation the user is in at most one voter set.
func (d *Dispatcher) Vote(ctx context.Context, postID string, dir Direction) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}

	post, ok := d.cache.Post(postID)
	if !ok {
		return domain.NotFoundError{Resource: "post"}
	}

	counter, set := "upvotes", "upvotesBy"
	otherCounter, otherSet := "downvotes", "downvotesBy"
	voted, votedOther := post.HasUpvoted(actor.ID), post.HasDownvoted(actor.ID)
	if dir == Downvote {
		counter, set, otherCounter, otherSet = otherCounter, otherSet, counter, set
		voted, votedOther = votedOther, voted
	}

	var fields map[string]any
	if voted {
		fields = map[string]any{
			counter: store.Inc(-1),
			set:     store.Remove(actor.ID),
		}
	} else {
		fields = map[string]any{
			counter: store.Inc(1),
			set:     store.Union(actor.ID),
		}
		if votedOther {
			fields[otherCounter] = store.Inc(-1)
			fields[otherSet] = store.Remove(actor.ID)
		}
	}

	if err := d.st.Update(ctx, amarkotha.CollectionPosts, postID, fields); err != nil {
		d.swallow("vote", postID, err)
	}
	return nil
}

// Comment appends one comment via an append-only delta, never a full-list
// overwrite, so concurrent comments from other users are preserved.
func (d *Dispatcher) Comment(ctx context.Context, postID, text string) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if text == "" {
		return domain.ValidationError{Reason: "comment text is required"}
	}

	comment := amarkotha.Comment{
		ID:        ulid.Make().String(),
		Author:    actor.Name,
		AuthorID:  actor.ID,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	}

	err = d.st.Update(ctx, amarkotha.CollectionPosts, postID, map[string]any{
		"comments": store.Union(comment),
	})
	if err != nil {
		d.swallow("comment", postID, err)
	}
	return nil
}

// CreatePostParams carries the submission form.
type CreatePostParams struct {
	Type        amarkotha.PostType
	Title       string
	Description string
	Division    string
	District    string
	PollOptions []string
}

// CreatePost validates the submission, extracts hashtags, optionally
// annotates it through the analyzer, and stores the new document. The
// analyzer never blocks creation: it degrades to its fallback.
func (d *Dispatcher) CreatePost(ctx context.Context, p CreatePostParams) (string, error) {
	actor, err := d.session.Actor()
	if err != nil {
		return "", err
	}
	if p.Title == "" {
		return "", domain.ValidationError{Reason: "title is required"}
	}

	options := []amarkotha.PollOption{}
	for _, text := range p.PollOptions {
		if text == "" {
			continue
		}
		options = append(options, amarkotha.PollOption{
			ID:   ulid.Make().String(),
			Text: text,
		})
	}
	if p.Type == amarkotha.PostTypePoll && len(options) < 2 {
		return "", domain.ValidationError{Reason: "polls need at least 2 options"}
	}
	if p.Type != amarkotha.PostTypePoll {
		options = nil
	}

	post := amarkotha.Post{
		Type:        p.Type,
		Title:       p.Title,
		Description: p.Description,
		Author:      actor.Name,
		AuthorID:    actor.ID,
		Category:    amarkotha.CategoryOther,
		Timestamp:   time.Now().UnixMilli(),
		UpvotesBy:   []string{},
		DownvotesBy: []string{},
		Division:    p.Division,
		District:    p.District,
		Hashtags:    amarkotha.ExtractHashtags(p.Title + " " + p.Description),
		Comments:    []amarkotha.Comment{},
		PollOptions: options,
	}
	if post.Division == "" {
		post.Division = amarkotha.DivisionNational
	}
	if post.District == "" {
		post.District = amarkotha.DistrictAll
	}

	if d.analyzer != nil {
		if settings, _ := d.cache.Settings(); settings.AIAnalysisEnabled {
			category, suggestion := d.analyzer.Analyze(ctx, p.Description+" "+p.Title)
			post.Category = category
			post.AIAnalysis = suggestion
		}
	}

	id, err := d.st.Add(ctx, amarkotha.CollectionPosts, post)
	if err != nil {
		d.swallow("create", "", err)
		return "", nil
	}
	return id, nil
}

// EditPost overwrites exactly the title and description fields.
func (d *Dispatcher) EditPost(ctx context.Context, postID, title, description string) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if post, ok := d.cache.Post(postID); ok {
		if policy.Check(policy.ActionEditPost, actor, &post) != policy.ALLOW {
			return domain.ErrForbidden
		}
	}

	err = d.st.Update(ctx, amarkotha.CollectionPosts, postID, map[string]any{
		"title":       title,
		"description": description,
	})
	if err != nil {
		d.swallow("edit", postID, err)
	}
	return nil
}

// DeletePost removes the document. Ownership is a courtesy pre-check; the
// store's access rules decide for real.
func (d *Dispatcher) DeletePost(ctx context.Context, postID string) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if post, ok := d.cache.Post(postID); ok {
		if policy.Check(policy.ActionDeletePost, actor, &post) != policy.ALLOW {
			return domain.ErrForbidden
		}
	}

	if err := d.st.Delete(ctx, amarkotha.CollectionPosts, postID); err != nil {
		d.swallow("delete", postID, err)
	}
	return nil
}

// UpdateProfile overwrites the acting user's own profile fields.
func (d *Dispatcher) UpdateProfile(ctx context.Context, profile amarkotha.User) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if profile.ID != actor.ID {
		return domain.ErrForbidden
	}

	if err := d.st.Set(ctx, amarkotha.CollectionUsers, profile.ID, profile); err != nil {
		d.swallow("profile", profile.ID, err)
	}
	return nil
}

// AdminUpdateUser applies field-level profile overwrites, admin-only.
func (d *Dispatcher) AdminUpdateUser(ctx context.Context, userID string, fields map[string]any) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if policy.Check(policy.ActionManageUsers, actor, nil) != policy.ALLOW {
		return domain.ErrForbidden
	}

	if err := d.st.Update(ctx, amarkotha.CollectionUsers, userID, fields); err != nil {
		d.swallow("admin-update-user", userID, err)
	}
	return nil
}

// AdminDeleteUser removes a profile document, admin-only.
func (d *Dispatcher) AdminDeleteUser(ctx context.Context, userID string) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if policy.Check(policy.ActionManageUsers, actor, nil) != policy.ALLOW {
		return domain.ErrForbidden
	}

	if err := d.st.Delete(ctx, amarkotha.CollectionUsers, userID); err != nil {
		d.swallow("admin-delete-user", userID, err)
	}
	return nil
}

// UpdateSettings fully overwrites the settings singleton, admin-only.
func (d *Dispatcher) UpdateSettings(ctx context.Context, settings amarkotha.SiteSettings) error {
	actor, err := d.session.Actor()
	if err != nil {
		return err
	}
	if policy.Check(policy.ActionUpdateSettings, actor, nil) != policy.ALLOW {
		return domain.ErrForbidden
	}

	return d.st.Set(ctx, amarkotha.CollectionSettings, amarkotha.SettingsDocID, settings)
}

// MarkNotificationRead is declared for the notification feed but not
// wired to a remote mutation.
// TODO: persist the read flag once notifications get a write path.
func (d *Dispatcher) MarkNotificationRead(ctx context.Context, notificationID string) error {
	if _, err := d.session.Actor(); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) swallow(op, id string, err error) {
	slog.Warn("mutation failed",
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
		slog.String("module", "dispatch"),
	)
}
