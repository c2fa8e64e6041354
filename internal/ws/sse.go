package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HandleSSE streams the same messages as the websocket endpoint as
// server-sent events. Topics come from ?topics=a,b and ?user_id=N.
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	topics, err := parseTopics(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(topics) == 0 {
		topics = []string{TopicRequests}
	}

	client := h.newClient(nil, topics)
	if !h.join(client) {
		http.Error(w, "stream closed", http.StatusServiceUnavailable)
		return
	}
	defer h.leave(client)

	h.logger.Debugw("SSE connection established", "topics", topics)
	h.sendEvent(w, "connected", "0", nil)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("SSE client disconnected")
			return

		case <-heartbeat.C:
			h.sendEvent(w, "heartbeat", "ping", map[string]any{
				"timestamp": time.Now().Unix(),
			})

		case msg, ok := <-client.send:
			if !ok {
				return
			}
			var m Message
			if err := json.Unmarshal(msg, &m); err != nil {
				h.logger.Warnw("Failed to parse stream message", "error", err)
				continue
			}
			h.sendEvent(w, eventType(m.Topic), m.Topic, m.Data)
		}
	}
}

func parseTopics(r *http.Request) ([]string, error) {
	var topics []string
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid user_id %q", raw)
		}
		topics = append(topics, UserTopic(uint32(id)))
	}
	return topics, nil
}

func eventType(topic string) string {
	switch {
	case topic == TopicRequests:
		return "request_update"
	case topic == TopicClaims:
		return "claim_update"
	case strings.HasPrefix(topic, "user:"):
		return "user_update"
	default:
		return "update"
	}
}

func (h *Hub) sendEvent(w http.ResponseWriter, event, id string, data any) {
	payload := []byte("{}")
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			h.logger.Errorw("Failed to marshal SSE data", "error", err)
			return
		}
		payload = b
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "id: %s\n", id)
	fmt.Fprintf(w, "data: %s\n\n", payload)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
