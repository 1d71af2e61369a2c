package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

func TestCreatePostValidation(t *testing.T) {
	svc := NewPostService(testConfig(), newFakePostRepo())

	_, err := svc.CreatePost(context.Background(), nil)
	assert.Error(t, err)

	_, err = svc.CreatePost(context.Background(), &transfer.PostCreation{
		AccountID: 1, PostType: "photo", ScheduledAt: time.Now(),
	})
	assert.ErrorContains(t, err, "media_url")

	_, err = svc.CreatePost(context.Background(), &transfer.PostCreation{
		AccountID: 1, PostType: "story", MediaURL: "a.png", ScheduledAt: time.Now(),
	})
	assert.ErrorContains(t, err, "post_type")
}

func TestCreatePostSpacingConflict(t *testing.T) {
	pr := newFakePostRepo()
	svc := NewPostService(testConfig(), pr)

	at := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	existing := pr.add(&models.Post{AccountID: 1, ScheduledAt: at})

	_, err := svc.CreatePost(context.Background(), &transfer.PostCreation{
		AccountID: 1, PostType: "photo", MediaURL: "a.png",
		ScheduledAt: at.Add(10 * time.Minute),
	})
	var conflict *SpacingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, existing.ID, conflict.Conflict.ID)
	assert.Equal(t, 15*time.Minute, conflict.MinSpacing)

	// Override bypasses the check.
	id, err := svc.CreatePost(context.Background(), &transfer.PostCreation{
		AccountID: 1, PostType: "photo", MediaURL: "a.png",
		ScheduledAt:     at.Add(10 * time.Minute),
		OverrideSpacing: true,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestCreatePostIdempotentOnClientRequestID(t *testing.T) {
	pr := newFakePostRepo()
	svc := NewPostService(testConfig(), pr)

	pc := &transfer.PostCreation{
		AccountID: 1, PostType: "photo", MediaURL: "a.png",
		ScheduledAt:     time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		ClientRequestID: "req-1",
		OverrideSpacing: true,
	}
	first, err := svc.CreatePost(context.Background(), pc)
	require.NoError(t, err)

	second, err := svc.CreatePost(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, pr.posts, 1)
}

func TestAccountFreezeUnfreeze(t *testing.T) {
	ar := newFakeAccountRepo(&models.Account{ID: 1, Handle: "studio", Active: true})
	svc := NewAccountService(ar)

	require.NoError(t, svc.Freeze(context.Background(), 1))
	assert.False(t, ar.accounts[1].Active)

	require.NoError(t, svc.Unfreeze(context.Background(), 1))
	assert.True(t, ar.accounts[1].Active)

	assert.Error(t, svc.Freeze(context.Background(), 99))
}

func TestResolveMediaURL(t *testing.T) {
	base := "http://localhost:8080"
	assert.Equal(t, "", ResolveMediaURL(base, ""))
	assert.Equal(t, "https://cdn.example/a.png", ResolveMediaURL(base, "https://cdn.example/a.png"))
	assert.Equal(t, "http://localhost:8080/media/a.png", ResolveMediaURL(base, "/media/a.png"))
	assert.Equal(t, "http://localhost:8080/media/a.png", ResolveMediaURL(base+"/", "/media/a.png"))
	assert.Equal(t, "http://localhost:8080/media/a.png", ResolveMediaURL(base, "media/a.png"))
}
