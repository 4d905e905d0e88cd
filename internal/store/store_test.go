package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMessage(channelID, msgID, date int64, text string) Message {
	return Message{
		ChannelID:  channelID,
		MsgID:      msgID,
		Date:       date,
		FromID:     42,
		FromUser:   "alice",
		FromName:   "Alice",
		FromType:   PeerUser,
		Text:       text,
		SenderText: "alice Alice",
	}
}

func mustInsert(t *testing.T, db *DB, channelID int64, msgs ...Message) int {
	t.Helper()
	n, err := db.InsertMessages(channelID, msgs)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
}

func TestInitIsRepeatable(t *testing.T) {
	db := testDB(t)
	// A second Init must not drop or duplicate anything.
	mustInsert(t, db, 1, testMessage(1, 10, 1000, "hello world"))
	if err := db.Init(); err != nil {
		t.Fatal(err)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("message count after re-Init = %d, want 1", count)
	}
}

func TestInsertMessagesIdempotent(t *testing.T) {
	db := testDB(t)

	msgs := make([]Message, 0, 20)
	for i := int64(1); i <= 20; i++ {
		msgs = append(msgs, testMessage(1, i, 1000+i, fmt.Sprintf("message %d", i)))
	}

	if n := mustInsert(t, db, 1, msgs...); n != 20 {
		t.Errorf("first insert = %d, want 20", n)
	}
	if n := mustInsert(t, db, 1, msgs...); n != 0 {
		t.Errorf("repeat insert = %d, want 0", n)
	}
	count, err := db.MessageCountForChannel(1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 20 {
		t.Errorf("total = %d, want 20", count)
	}
}

func TestCursorsAreMonotonic(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChannel(&Channel{ChannelID: 1, Title: "c"}); err != nil {
		t.Fatal(err)
	}

	// Insert batches out of order; cursors must always bound all stored ids.
	mustInsert(t, db, 1, testMessage(1, 50, 5000, "mid"), testMessage(1, 60, 6000, "mid2"))
	mustInsert(t, db, 1, testMessage(1, 10, 1000, "old"))
	mustInsert(t, db, 1, testMessage(1, 90, 9000, "new"))

	ch, err := db.GetChannel(1)
	if err != nil {
		t.Fatal(err)
	}
	if ch.NewestMsgID != 90 || ch.NewestMsgDate != 9000 {
		t.Errorf("newest cursor = (%d, %d), want (90, 9000)", ch.NewestMsgID, ch.NewestMsgDate)
	}
	if ch.OldestMsgID != 10 || ch.OldestMsgDate != 1000 {
		t.Errorf("oldest cursor = (%d, %d), want (10, 1000)", ch.OldestMsgID, ch.OldestMsgDate)
	}

	// A batch inside the known range must not move either cursor.
	mustInsert(t, db, 1, testMessage(1, 30, 3000, "inside"))
	ch, _ = db.GetChannel(1)
	if ch.NewestMsgID != 90 || ch.OldestMsgID != 10 {
		t.Errorf("cursors moved on interior batch: newest=%d oldest=%d", ch.NewestMsgID, ch.OldestMsgID)
	}
}

func TestSearchIndexFidelity(t *testing.T) {
	db := testDB(t)

	mustInsert(t, db, 1,
		testMessage(1, 1, 1000, "the quarterly earnings report is out"),
		testMessage(1, 2, 2000, "lunch at noon?"),
	)

	results, err := db.SearchMessages(SearchFilter{Query: `"quarterly earnings"`})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].MsgID != 1 {
		t.Fatalf("phrase search results = %+v, want msg 1", results)
	}
	if results[0].Snippet == "" {
		t.Error("full-text result should carry a snippet")
	}

	// Deleting the row must remove it from search.
	if _, err := db.DeleteMessages(1, []int64{1}); err != nil {
		t.Fatal(err)
	}
	results, err = db.SearchMessages(SearchFilter{Query: `"quarterly earnings"`})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("deleted message still in search: %+v", results)
	}
}

func TestSearchIndexFollowsEdits(t *testing.T) {
	db := testDB(t)
	mustInsert(t, db, 1, testMessage(1, 1, 1000, "original wording"))

	m := testMessage(1, 1, 1000, "edited wording entirely")
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}

	if results, _ := db.SearchMessages(SearchFilter{Query: "original"}); len(results) != 0 {
		t.Error("stale text still matches after edit")
	}
	results, err := db.SearchMessages(SearchFilter{Query: "edited"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("edited text not searchable, results = %d", len(results))
	}
}

func TestSearchIndexRebuildOnVersionMismatch(t *testing.T) {
	db := testDB(t)
	mustInsert(t, db, 1, testMessage(1, 1, 1000, "survives a rebuild"))

	// Simulate an old install.
	if err := db.SetMeta("fts_version", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureSearchIndex(); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages(SearchFilter{Query: "rebuild"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("message lost across index rebuild, results = %d", len(results))
	}
	if v, _ := db.GetMeta("fts_version"); v != "2" {
		t.Errorf("fts_version = %q, want \"2\"", v)
	}
}

func TestSearchFilters(t *testing.T) {
	db := testDB(t)
	mustInsert(t, db, 1,
		testMessage(1, 1, 1000, "release notes for v1"),
		testMessage(1, 2, 2000, "release notes for v2"),
	)
	mustInsert(t, db, 2, testMessage(2, 1, 1500, "release party photos"))

	t.Run("channel filter", func(t *testing.T) {
		results, err := db.SearchMessages(SearchFilter{Query: "release", ChannelID: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].ChannelID != 2 {
			t.Errorf("results = %+v, want only channel 2", results)
		}
	})

	t.Run("date range", func(t *testing.T) {
		results, err := db.SearchMessages(SearchFilter{Query: "release", After: 1200, Before: 1800})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].Date != 1500 {
			t.Errorf("results = %+v, want only date 1500", results)
		}
	})

	t.Run("tag filter", func(t *testing.T) {
		err := db.ReplaceChannelTags(2, "manual", []ChannelTag{{ChannelID: 2, Tag: "fun", Source: "manual", Confidence: 1}})
		if err != nil {
			t.Fatal(err)
		}
		results, err := db.SearchMessages(SearchFilter{Query: "release", Tags: []string{"fun"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].ChannelID != 2 {
			t.Errorf("results = %+v, want only tagged channel", results)
		}
	})

	t.Run("regex refilter", func(t *testing.T) {
		results, err := db.SearchMessages(SearchFilter{Query: "release", Regex: `v\d`})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 2 {
			t.Errorf("regex over full-text results = %d, want 2", len(results))
		}
	})

	t.Run("regex alone", func(t *testing.T) {
		results, err := db.SearchMessages(SearchFilter{Regex: `party`})
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Errorf("bare regex results = %d, want 1", len(results))
		}
	})

	t.Run("invalid regex fails fast", func(t *testing.T) {
		if _, err := db.SearchMessages(SearchFilter{Regex: `[unclosed`}); err == nil {
			t.Error("invalid regex should error")
		}
	})
}

func TestGetMessageContext(t *testing.T) {
	db := testDB(t)
	var msgs []Message
	for i := int64(1); i <= 9; i++ {
		msgs = append(msgs, testMessage(1, i*10, 1000+i, fmt.Sprintf("m%d", i)))
	}
	mustInsert(t, db, 1, msgs...)

	ctx, err := db.GetMessageContext(1, 50, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{30, 40, 50, 60, 70}
	if len(ctx) != len(want) {
		t.Fatalf("context length = %d, want %d", len(ctx), len(want))
	}
	for i, id := range want {
		if ctx[i].MsgID != id {
			t.Errorf("ctx[%d].MsgID = %d, want %d", i, ctx[i].MsgID, id)
		}
	}
}

func TestMediaAndLinksRoundTrip(t *testing.T) {
	db := testDB(t)

	m := testMessage(1, 1, 1000, "see https://example.com/report.pdf")
	m.LinkText = "https://example.com/report.pdf example.com"
	m.FileText = "report.pdf document"
	m.Media = &Media{ChannelID: 1, MsgID: 1, Kind: "document", FileName: "report.pdf", MimeType: "application/pdf"}
	m.Links = []Link{{ChannelID: 1, MsgID: 1, URL: "https://example.com/report.pdf", Domain: "example.com"}}
	mustInsert(t, db, 1, m)

	got, err := db.GetMessage(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Media == nil {
		t.Fatal("media not stored")
	}
	if got.Media.FileName != "report.pdf" {
		t.Errorf("file name = %q", got.Media.FileName)
	}
	if len(got.Links) != 1 || got.Links[0].Domain != "example.com" {
		t.Errorf("links = %+v", got.Links)
	}

	// File name is searchable through the denormalized column.
	results, err := db.SearchMessages(SearchFilter{Query: "report"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("filename search results = %d, want 1", len(results))
	}

	// Edit without media removes the media row.
	edited := testMessage(1, 1, 1000, "attachment removed")
	if err := db.UpsertMessage(&edited); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetMessage(1, 1)
	if got.Media != nil {
		t.Error("media row should be deleted when the edit carries none")
	}
}

func TestDeleteMessagesFromUserPeers(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChannel(&Channel{ChannelID: 1, PeerType: PeerUser}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChannel(&Channel{ChannelID: 2, PeerType: PeerBroadcast}); err != nil {
		t.Fatal(err)
	}
	mustInsert(t, db, 1, testMessage(1, 7, 1000, "dm"))
	mustInsert(t, db, 2, testMessage(2, 7, 1000, "channel post"))

	n, err := db.DeleteMessagesFromUserPeers([]int64{7})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if m, _ := db.GetMessage(2, 7); m == nil {
		t.Error("channel-scoped message deleted by unscoped event")
	}
	if m, _ := db.GetMessage(1, 7); m != nil {
		t.Error("direct message should be gone")
	}
}

func TestJobStateMachine(t *testing.T) {
	db := testDB(t)

	job, err := db.UpsertJob(1, 500, 0)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobPending {
		t.Errorf("new job status = %s, want pending", job.Status)
	}
	if job.TargetCount != 500 {
		t.Errorf("target = %d, want 500", job.TargetCount)
	}

	// Re-arm is idempotent and resets status.
	if err := db.SetJobStatus(job.JobID, JobError, "boom"); err != nil {
		t.Fatal(err)
	}
	rearmed, err := db.UpsertJob(1, 800, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rearmed.JobID != job.JobID {
		t.Errorf("re-arm created a second job: %d != %d", rearmed.JobID, job.JobID)
	}
	if rearmed.Status != JobPending || rearmed.Error != "" {
		t.Errorf("re-armed job = %+v, want pending with no error", rearmed)
	}
}

func TestNextJobPrefersOldestUpdated(t *testing.T) {
	db := testDB(t)

	a, _ := db.UpsertJob(1, 100, 0)
	time.Sleep(5 * time.Millisecond)
	b, _ := db.UpsertJob(2, 100, 0)

	next, err := db.NextJob()
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.JobID != a.JobID {
		t.Fatalf("next = %+v, want job %d", next, a.JobID)
	}

	// Touching A sends it to the back of the queue.
	if err := db.SetJobStatus(a.JobID, JobPending, ""); err != nil {
		t.Fatal(err)
	}
	next, _ = db.NextJob()
	if next == nil || next.JobID != b.JobID {
		t.Fatalf("next after touch = %+v, want job %d", next, b.JobID)
	}

	// Terminal states are not runnable.
	_ = db.SetJobStatus(a.JobID, JobIdle, "")
	_ = db.SetJobStatus(b.JobID, JobError, "x")
	next, _ = db.NextJob()
	if next != nil {
		t.Errorf("next over terminal jobs = %+v, want nil", next)
	}
}

func TestRetryJobsSelectors(t *testing.T) {
	db := testDB(t)
	a, _ := db.UpsertJob(1, 100, 0)
	b, _ := db.UpsertJob(2, 100, 0)
	_ = db.SetJobStatus(a.JobID, JobError, "boom")
	_ = db.SetJobStatus(b.JobID, JobIdle, "")

	if _, err := db.RetryJobs(RetrySelector{}); err != ErrBadSelector {
		t.Errorf("empty selector error = %v, want ErrBadSelector", err)
	}
	if _, err := db.RetryJobs(RetrySelector{JobID: a.JobID, AllErrors: true}); err != ErrBadSelector {
		t.Errorf("double selector error = %v, want ErrBadSelector", err)
	}

	n, err := db.RetryJobs(RetrySelector{AllErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("retried = %d, want 1 (only the error job)", n)
	}
	got, _ := db.GetJob(1)
	if got.Status != JobPending || got.Error != "" {
		t.Errorf("retried job = %+v, want clean pending", got)
	}
	if idle, _ := db.GetJob(2); idle.Status != JobIdle {
		t.Errorf("idle job touched by all-errors retry: %+v", idle)
	}
}

func TestCancelJobsKeepsMessages(t *testing.T) {
	db := testDB(t)
	mustInsert(t, db, 1, testMessage(1, 1, 1000, "kept"))
	job, _ := db.UpsertJob(1, 100, 0)

	n, err := db.CancelJobs(CancelSelector{JobID: job.JobID})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cancelled = %d, want 1", n)
	}
	if j, _ := db.GetJob(1); j != nil {
		t.Errorf("job still present: %+v", j)
	}
	if count, _ := db.MessageCountForChannel(1); count != 1 {
		t.Errorf("messages after cancel = %d, want 1", count)
	}
}

func TestTagPartitioning(t *testing.T) {
	db := testDB(t)

	manual := []ChannelTag{{ChannelID: 1, Tag: "ai", Source: "manual", Confidence: 1}}
	if err := db.ReplaceChannelTags(1, "manual", manual); err != nil {
		t.Fatal(err)
	}
	auto := []ChannelTag{
		{ChannelID: 1, Tag: "tech", Source: "auto", Confidence: 0.67},
		{ChannelID: 1, Tag: "news", Source: "auto", Confidence: 0.33},
	}
	if err := db.ReplaceChannelTags(1, "auto", auto); err != nil {
		t.Fatal(err)
	}

	// Re-running auto with a different set only swaps the auto partition.
	if err := db.ReplaceChannelTags(1, "auto", auto[:1]); err != nil {
		t.Fatal(err)
	}

	tags, err := db.ListChannelTags(1)
	if err != nil {
		t.Fatal(err)
	}
	var sources = map[string]int{}
	for _, tag := range tags {
		sources[tag.Source]++
	}
	if sources["manual"] != 1 {
		t.Errorf("manual tags = %d, want 1", sources["manual"])
	}
	if sources["auto"] != 1 {
		t.Errorf("auto tags = %d, want 1", sources["auto"])
	}
}

func TestChannelUpsertPreservesProfile(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChannel(&Channel{ChannelID: 1, Title: "Original", Username: "orig", PeerType: PeerBroadcast}); err != nil {
		t.Fatal(err)
	}
	// A later observation with empty fields must not blank the profile.
	if err := db.UpsertChannel(&Channel{ChannelID: 1}); err != nil {
		t.Fatal(err)
	}
	ch, _ := db.GetChannel(1)
	if ch.Title != "Original" || ch.Username != "orig" {
		t.Errorf("profile clobbered: %+v", ch)
	}
}

func TestContacts(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(&User{UserID: 7, Username: "bob", Name: "Bob", IsContact: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetContactAlias(7, "bobby"); err != nil {
		t.Fatal(err)
	}
	if err := db.AddContactTags(7, []string{"work", "chess"}); err != nil {
		t.Fatal(err)
	}
	if err := db.AddContactTags(7, []string{"chess"}); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveContactTags(7, []string{"work"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact(7)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("contact missing")
	}
	if c.Alias != "bobby" {
		t.Errorf("alias = %q", c.Alias)
	}
	if len(c.Tags) != 1 || c.Tags[0] != "chess" {
		t.Errorf("tags = %v, want [chess]", c.Tags)
	}

	if missing, _ := db.GetContact(99); missing != nil {
		t.Errorf("absent contact = %+v, want nil", missing)
	}
}

func TestTopics(t *testing.T) {
	db := testDB(t)

	topics := []Topic{{ChannelID: 1, TopicID: 3, Title: "General"}, {ChannelID: 1, TopicID: 8, Title: "Jobs"}}
	if err := db.UpsertTopics(1, topics); err != nil {
		t.Fatal(err)
	}
	title, err := db.GetTopicTitle(1, 8)
	if err != nil {
		t.Fatal(err)
	}
	if title != "Jobs" {
		t.Errorf("title = %q, want Jobs", title)
	}
	if title, _ := db.GetTopicTitle(1, 99); title != "" {
		t.Errorf("unknown topic title = %q, want empty", title)
	}
}

func TestQueueStats(t *testing.T) {
	db := testDB(t)
	mustInsert(t, db, 1, testMessage(1, 1, 1000, "a"), testMessage(1, 2, 2000, "b"))
	_, _ = db.UpsertJob(1, 100, 0)
	job2, _ := db.UpsertJob(2, 100, 0)
	_ = db.SetJobStatus(job2.JobID, JobError, "x")

	stats, err := db.JobQueueStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 2 {
		t.Errorf("messages = %d, want 2", stats.Messages)
	}
	if stats.JobsByStatus[JobPending] != 1 || stats.JobsByStatus[JobError] != 1 {
		t.Errorf("jobs by status = %v", stats.JobsByStatus)
	}
}
