package dashboard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"pylon/pkg/collision"
)

// feedCap bounds the feed length; older entries fall off.
const feedCap = 100

// feedEventID derives a stable identifier from the event's content, so a
// rebuilt feed carries identical ids for identical occurrences and never
// re-emits an entry as new.
func feedEventID(kind, project, sessionID, message string) string {
	h := sha256.Sum256([]byte(kind + "\x00" + project + "\x00" + sessionID + "\x00" + message))
	return hex.EncodeToString(h[:8])
}

// buildFeed merges collision detections, commits, compactions, plan
// completions, and session terminations into one feed, newest first,
// deduplicated by content id.
func buildFeed(sessions []SessionState, collisions []collision.Collision) []FeedEvent {
	var feed []FeedEvent

	for _, c := range collisions {
		msg := fmt.Sprintf("%d sessions editing %s", len(c.Participants), c.Path)
		feed = append(feed, FeedEvent{
			ID:       feedEventID("collision", c.Path, "", msg),
			Kind:     "collision",
			Severity: string(c.Severity),
			Project:  c.Participants[0].Project,
			Message:  msg,
			Time:     c.DetectedAt,
		})
	}

	for i := range sessions {
		s := &sessions[i]
		project := s.Session.ProjectPath
		for _, t := range s.Turns {
			when := t.EndTime
			if when.IsZero() {
				when = s.Session.ModifiedAt
			}
			if t.Committed {
				msg := "commit: " + t.CommitMessage
				feed = append(feed, FeedEvent{
					ID:        feedEventID("commit", project, s.Session.ID, msg),
					Kind:      "commit",
					Project:   project,
					SessionID: s.Session.ID,
					Message:   msg,
					Time:      when,
				})
			}
			if t.Compacted {
				msg := fmt.Sprintf("context compacted at turn %d", t.Index+1)
				feed = append(feed, FeedEvent{
					ID:        feedEventID("compaction", project, s.Session.ID, msg),
					Kind:      "compaction",
					Project:   project,
					SessionID: s.Session.ID,
					Message:   msg,
					Time:      when,
				})
			}
			if t.ErrorCount >= 3 {
				msg := fmt.Sprintf("%d tool errors in turn %d", t.ErrorCount, t.Index+1)
				feed = append(feed, FeedEvent{
					ID:        feedEventID("error", project, s.Session.ID, msg),
					Kind:      "error",
					Severity:  "warning",
					Project:   project,
					SessionID: s.Session.ID,
					Message:   msg,
					Time:      when,
				})
			}
		}

		for _, task := range latestTasks(s.Turns) {
			if task.Status != "completed" {
				continue
			}
			msg := "completed: " + task.Content
			feed = append(feed, FeedEvent{
				ID:        feedEventID("plan", project, s.Session.ID, msg),
				Kind:      "plan",
				Project:   project,
				SessionID: s.Session.ID,
				Message:   msg,
				Time:      s.Session.ModifiedAt,
			})
		}

		if !s.Session.Active && len(s.Turns) > 0 {
			msg := fmt.Sprintf("session ended after %d turns", len(s.Turns))
			feed = append(feed, FeedEvent{
				ID:        feedEventID("session_end", project, s.Session.ID, msg),
				Kind:      "session_end",
				Project:   project,
				SessionID: s.Session.ID,
				Message:   msg,
				Time:      s.Session.ModifiedAt,
			})
		}
	}

	feed = dedupeFeed(feed)
	sort.SliceStable(feed, func(i, j int) bool {
		if !feed[i].Time.Equal(feed[j].Time) {
			return feed[i].Time.After(feed[j].Time)
		}
		return feed[i].ID < feed[j].ID
	})
	if len(feed) > feedCap {
		feed = feed[:feedCap]
	}
	return feed
}

func dedupeFeed(feed []FeedEvent) []FeedEvent {
	seen := map[string]bool{}
	out := feed[:0]
	for _, ev := range feed {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}
