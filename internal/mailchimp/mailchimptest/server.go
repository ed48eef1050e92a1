// Package mailchimptest provides an in-memory Mailchimp audience served
// over httptest for exercising the mailchimp client and its callers.
package mailchimptest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/mailchimp"
)

// APIKey and AudienceID are accepted by the fake.
const (
	APIKey     = "test-key-us1"
	AudienceID = "audience123"
)

// Member is a stored audience member.
type Member struct {
	Email       string
	Status      string
	MergeFields map[string]string
	Tags        map[string]bool
	IPSignup    string
	UpdatedAt   time.Time
}

// TagNames returns active tags in sorted order.
func (m Member) TagNames() []string {
	names := make([]string, 0, len(m.Tags))
	for n, active := range m.Tags {
		if active {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Request is a recorded API call.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

type failure struct {
	status int
	title  string
}

// Server is a fake Mailchimp API.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	members   map[string]*Member // keyed by subscriber hash
	segments  []storedSegment
	queued    map[string][]string // workflow/email -> addresses
	requests  []Request
	failures  []failure
	nextSegID int
}

type storedSegment struct {
	id      int
	segment segments.Segment
	created time.Time
}

// NewServer starts a fake audience. It is closed when the test ends.
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		members:   make(map[string]*Member),
		queued:    make(map[string][]string),
		nextSegID: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /3.0/ping", s.handlePing)
	mux.HandleFunc("POST /3.0/lists/{list}/members", audience(s.handleCreate))
	mux.HandleFunc("PUT /3.0/lists/{list}/members/{hash}", audience(s.handleUpsert))
	mux.HandleFunc("PATCH /3.0/lists/{list}/members/{hash}", audience(s.handlePatch))
	mux.HandleFunc("GET /3.0/lists/{list}/members/{hash}", audience(s.handleGet))
	mux.HandleFunc("POST /3.0/lists/{list}/members/{hash}/tags", audience(s.handleTags))
	mux.HandleFunc("POST /3.0/lists/{list}/segments", audience(s.handleCreateSegment))
	mux.HandleFunc("GET /3.0/lists/{list}/segments", audience(s.handleListSegments))
	mux.HandleFunc("POST /3.0/automations/{workflow}/emails/{email}/queue", s.handleQueue)

	s.Server = httptest.NewServer(s.intercept(mux))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to hand to mailchimp.WithBaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/3.0"
}

// FailNext makes the next n requests fail with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, title: http.StatusText(status)})
	}
}

// Seed stores a member directly.
func (s *Server) Seed(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.MergeFields == nil {
		m.MergeFields = map[string]string{}
	}
	if m.Tags == nil {
		m.Tags = map[string]bool{}
	}
	m.Email = strings.ToLower(m.Email)
	s.members[mailchimp.SubscriberHash(m.Email)] = &m
}

// Member returns a copy of the stored member for email.
func (s *Server) Member(email string) (Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[mailchimp.SubscriberHash(email)]
	if !ok {
		return Member{}, false
	}
	return copyMember(m), true
}

// MemberCount returns the audience size.
func (s *Server) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Requests returns all calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Queued returns addresses queued on an automation email.
func (s *Server) Queued(workflowID, emailID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queued[workflowID+"/"+emailID]...)
}

// SegmentMembers evaluates a stored segment against the audience.
func (s *Server) SegmentMembers(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.segment.Name != name {
			continue
		}
		var out []string
		for _, m := range s.members {
			if segments.Matches(m.MergeFields, seg.segment.Options) {
				out = append(out, m.Email)
			}
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = readAll(r)
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
		var fail *failure
		if len(s.failures) > 0 {
			f := s.failures[0]
			s.failures = s.failures[1:]
			fail = &f
		}
		s.mu.Unlock()

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			writeProblem(w, http.StatusUnauthorized, "API Key Missing", "Your request did not include an API key.")
			return
		}
		if fail != nil {
			writeProblem(w, fail.status, fail.title, "injected failure")
			return
		}
		r.Body = newBody(body)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"health_status": "Everything's Chimpy!"})
}

// audience rejects requests for lists other than AudienceID.
func audience(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("list") != AudienceID {
			writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in mailchimp.Member
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.EmailAddress == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	hash := mailchimp.SubscriberHash(in.EmailAddress)
	if _, exists := s.members[hash]; exists {
		writeProblem(w, http.StatusBadRequest, "Member Exists", in.EmailAddress+" is already a list member. Use PUT to insert or update list members.")
		return
	}
	m := &Member{
		Email:       strings.ToLower(in.EmailAddress),
		Status:      in.Status,
		MergeFields: copyFields(in.MergeFields),
		Tags:        map[string]bool{},
		IPSignup:    in.IPSignup,
		UpdatedAt:   time.Now(),
	}
	for _, tag := range in.Tags {
		m.Tags[tag] = true
	}
	s.members[hash] = m
	writeJSON(w, http.StatusOK, info(hash, m))
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var in mailchimp.Member
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.EmailAddress == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	hash := r.PathValue("hash")
	if hash != mailchimp.SubscriberHash(in.EmailAddress) {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The subscriber hash does not match the email address.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, exists := s.members[hash]
	if !exists {
		status := in.Status
		if status == "" {
			status = in.StatusIfNew
		}
		m = &Member{
			Email:       strings.ToLower(in.EmailAddress),
			Status:      status,
			MergeFields: map[string]string{},
			Tags:        map[string]bool{},
			IPSignup:    in.IPSignup,
		}
		s.members[hash] = m
	} else if in.Status != "" {
		m.Status = in.Status
	}
	for k, v := range in.MergeFields {
		m.MergeFields[k] = v
	}
	m.UpdatedAt = time.Now()
	writeJSON(w, http.StatusOK, info(hash, m))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status      string            `json:"status"`
		MergeFields map[string]string `json:"merge_fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	hash := r.PathValue("hash")
	m, ok := s.members[hash]
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	if in.Status != "" {
		m.Status = in.Status
	}
	for k, v := range in.MergeFields {
		m.MergeFields[k] = v
	}
	m.UpdatedAt = time.Now()
	writeJSON(w, http.StatusOK, info(hash, m))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := r.PathValue("hash")
	m, ok := s.members[hash]
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	writeJSON(w, http.StatusOK, info(hash, m))
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tags []mailchimp.Tag `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[r.PathValue("hash")]
	if !ok {
		writeProblem(w, http.StatusNotFound, "Resource Not Found", "The requested resource could not be found.")
		return
	}
	for _, tag := range in.Tags {
		m.Tags[tag.Name] = tag.Status == mailchimp.TagActive
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	var in segments.Segment
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.segments {
		if existing.segment.Name == in.Name {
			writeProblem(w, http.StatusBadRequest, "Invalid Resource", "Sorry, a segment with that name already exists.")
			return
		}
	}
	seg := storedSegment{id: s.nextSegID, segment: in, created: time.Now()}
	s.nextSegID++
	s.segments = append(s.segments, seg)
	writeJSON(w, http.StatusOK, s.segmentInfo(seg))
}

func (s *Server) handleListSegments(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mailchimp.SegmentInfo, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, s.segmentInfo(seg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": out, "total_items": len(out)})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EmailAddress string `json:"email_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.EmailAddress == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Resource", "The resource submitted could not be validated.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.PathValue("workflow") + "/" + r.PathValue("email")
	s.queued[key] = append(s.queued[key], strings.ToLower(in.EmailAddress))
	w.WriteHeader(http.StatusNoContent)
}

// segmentInfo counts matching members with a linear scan; s.mu must be held.
func (s *Server) segmentInfo(seg storedSegment) mailchimp.SegmentInfo {
	count := 0
	for _, m := range s.members {
		if segments.Matches(m.MergeFields, seg.segment.Options) {
			count++
		}
	}
	return mailchimp.SegmentInfo{
		ID:          seg.id,
		Name:        seg.segment.Name,
		MemberCount: count,
		Type:        "saved",
		CreatedAt:   seg.created.UTC().Format(time.RFC3339),
	}
}

func info(hash string, m *Member) mailchimp.MemberInfo {
	fields := make(map[string]any, len(m.MergeFields))
	for k, v := range m.MergeFields {
		fields[k] = v
	}
	var tags []mailchimp.MemberTag
	for i, name := range m.TagNames() {
		tags = append(tags, mailchimp.MemberTag{ID: i + 1, Name: name})
	}
	return mailchimp.MemberInfo{
		ID:            hash,
		EmailAddress:  m.Email,
		UniqueEmailID: hash[:10],
		Status:        m.Status,
		MergeFields:   fields,
		Tags:          tags,
		LastChanged:   m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func copyMember(m *Member) Member {
	out := *m
	out.MergeFields = copyFields(m.MergeFields)
	out.Tags = make(map[string]bool, len(m.Tags))
	for k, v := range m.Tags {
		out.Tags[k] = v
	}
	return out
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(mailchimp.APIError{
		Status: status,
		Type:   "https://mailchimp.com/developer/marketing/docs/errors/",
		Title:  title,
		Detail: detail,
	})
}
