// Command loadtwcs bulk-loads the Kaggle Customer Support on Twitter
// dataset (twcs.csv) into a running server: it groups rows into
// conversations by reply chain, then POSTs them in chunks of 500 to
// /api/v1/conversations/bulk.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/go-resty/resty/v2"
)

const bulkChunkSize = 500

type twcsRow struct {
	TweetID             string
	AuthorID            string
	Inbound             string
	CreatedAt           string
	Text                string
	InResponseToTweetID string
}

type messageIn struct {
	ExternalID   string `json:"tweet_id"`
	AuthorID     string `json:"author_id"`
	Text         string `json:"text"`
	InReplyToID  string `json:"in_reply_to_id,omitempty"`
	Inbound      bool   `json:"inbound"`
	CreatedAtRaw string `json:"created_at_raw,omitempty"`
}

type conversationIn struct {
	Messages []messageIn `json:"messages"`
}

type bulkConversationsIn struct {
	Conversations []conversationIn `json:"conversations"`
}

type bulkIngestResponse struct {
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Backpressure bool `json:"backpressure"`
}

func main() {
	csvPath := flag.String("csv", "data/twcs.csv", "path to twcs.csv")
	limit := flag.Int("limit", 5000, "max conversations to load")
	baseURL := flag.String("base-url", "http://localhost:8080", "API base URL")
	concurrency := flag.Int("concurrency", 4, "concurrent bulk-upload workers")
	dryRun := flag.Bool("dry-run", false, "build conversations from CSV but do not POST")
	flag.Parse()

	rows, err := readTWCS(*csvPath)
	if err != nil {
		log.Fatalf("reading %s: %v", *csvPath, err)
	}
	log.Printf("read %d rows from %s", len(rows), *csvPath)

	conversations := buildConversations(rows, *limit)
	log.Printf("built %d conversations", len(conversations))
	if len(conversations) == 0 {
		log.Fatal("no conversations built; csv must have tweet_id, author_id, inbound, created_at, text, in_response_to_tweet_id columns")
	}

	if *dryRun {
		log.Print("dry run: not sending to API")
		return
	}

	client := resty.New().SetBaseURL(strings.TrimRight(*baseURL, "/")).SetTimeout(60 * time.Second)

	if _, err := client.R().Get("/health"); err != nil {
		log.Fatalf("API not reachable at %s: %v", *baseURL, err)
	}

	chunks := chunk(conversations, bulkChunkSize)
	pool := pond.New(*concurrency, *concurrency*2, pond.MinWorkers(1))

	var (
		mu                          sync.Mutex
		totalAccepted, totalRejected int
	)

	for i, c := range chunks {
		i, c := i, c
		pool.Submit(func() {
			payload := bulkConversationsIn{Conversations: c}
			var result bulkIngestResponse
			resp, err := client.R().SetBody(payload).SetResult(&result).Post("/api/v1/conversations/bulk")
			if err != nil {
				log.Printf("chunk %d: request failed: %v", i+1, err)
				return
			}
			if resp.IsError() {
				log.Printf("chunk %d: server returned %s", i+1, resp.Status())
				return
			}
			mu.Lock()
			totalAccepted += result.Accepted
			totalRejected += result.Rejected
			mu.Unlock()
			if result.Accepted == 0 && result.Rejected > 0 {
				log.Printf("chunk %d: all %d rejected", i+1, result.Rejected)
			}
		})
	}
	pool.StopAndWait()

	log.Printf("done: accepted=%d rejected=%d", totalAccepted, totalRejected)
}

func readTWCS(path string) ([]twcsRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	var rows []twcsRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}
		tid := strings.TrimSpace(get("tweet_id"))
		if tid == "" {
			continue
		}
		rows = append(rows, twcsRow{
			TweetID:             tid,
			AuthorID:            get("author_id"),
			Inbound:             get("inbound"),
			CreatedAt:           get("created_at"),
			Text:                get("text"),
			InResponseToTweetID: get("in_response_to_tweet_id"),
		})
	}
	return rows, nil
}

// findRoot follows in_response_to_tweet_id to the conversation root,
// stopping at a visited id to stay safe against reply cycles.
func findRoot(tid string, byID map[string]twcsRow) string {
	visited := make(map[string]bool)
	current := tid
	for current != "" && !visited[current] {
		visited[current] = true
		row, ok := byID[current]
		if !ok {
			return current
		}
		parent := strings.TrimSpace(row.InResponseToTweetID)
		if parent == "" {
			return current
		}
		if _, ok := byID[parent]; !ok {
			return current
		}
		current = parent
	}
	return current
}

func buildConversations(rows []twcsRow, limit int) []conversationIn {
	byID := make(map[string]twcsRow, len(rows))
	for _, row := range rows {
		byID[row.TweetID] = row
	}

	byRoot := make(map[string][]string)
	for tid := range byID {
		root := findRoot(tid, byID)
		byRoot[root] = append(byRoot[root], tid)
	}

	roots := make([]string, 0, len(byRoot))
	for root := range byRoot {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var conversations []conversationIn
	for _, root := range roots {
		if _, ok := byID[root]; !ok {
			continue
		}
		tids := byRoot[root]
		rowsForConv := make([]twcsRow, 0, len(tids))
		for _, tid := range tids {
			rowsForConv = append(rowsForConv, byID[tid])
		}
		sort.Slice(rowsForConv, func(i, j int) bool {
			if rowsForConv[i].CreatedAt != rowsForConv[j].CreatedAt {
				return rowsForConv[i].CreatedAt < rowsForConv[j].CreatedAt
			}
			return rowsForConv[i].TweetID < rowsForConv[j].TweetID
		})

		messages := make([]messageIn, 0, len(rowsForConv))
		for _, row := range rowsForConv {
			messages = append(messages, messageIn{
				ExternalID:   row.TweetID,
				AuthorID:     row.AuthorID,
				Text:         row.Text,
				InReplyToID:  row.InResponseToTweetID,
				Inbound:      strings.EqualFold(strings.TrimSpace(row.Inbound), "true"),
				CreatedAtRaw: row.CreatedAt,
			})
		}
		if len(messages) == 0 {
			continue
		}
		conversations = append(conversations, conversationIn{Messages: messages})
		if len(conversations) >= limit {
			break
		}
	}
	return conversations
}

func chunk(conversations []conversationIn, size int) [][]conversationIn {
	var chunks [][]conversationIn
	for i := 0; i < len(conversations); i += size {
		end := i + size
		if end > len(conversations) {
			end = len(conversations)
		}
		chunks = append(chunks, conversations[i:end])
	}
	return chunks
}
