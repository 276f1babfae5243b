package megatest

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

type faults struct {
	failUploads        int
	failUploadStatus   int
	failDownloads      int
	failDownloadStatus int

	stopUploads     bool
	uploadBudget    int64
	stopDownloads   bool
	downloadBudget  int64
	corruptDownload bool
}

// FailUploadChunks makes the next n chunk uploads answer with HTTP status.
func (s *Server) FailUploadChunks(n, status int) {
	s.mu.Lock()
	s.faults.failUploads, s.faults.failUploadStatus = n, status
	s.mu.Unlock()
}

// FailDownloadChunks makes the next n chunk downloads answer with HTTP
// status.
func (s *Server) FailDownloadChunks(n, status int) {
	s.mu.Lock()
	s.faults.failDownloads, s.faults.failDownloadStatus = n, status
	s.mu.Unlock()
}

// StopUploadsAfter accepts n more chunk uploads, then rejects every further
// one with 403 until ClearFaults.
func (s *Server) StopUploadsAfter(n int) {
	s.mu.Lock()
	s.faults.stopUploads, s.faults.uploadBudget = true, int64(n)
	s.mu.Unlock()
}

// StopDownloadsAfter serves n more chunk downloads, then rejects every
// further one with 403 until ClearFaults.
func (s *Server) StopDownloadsAfter(n int) {
	s.mu.Lock()
	s.faults.stopDownloads, s.faults.downloadBudget = true, int64(n)
	s.mu.Unlock()
}

// CorruptDownloads flips a bit in every served chunk.
func (s *Server) CorruptDownloads(on bool) {
	s.mu.Lock()
	s.faults.corruptDownload = on
	s.mu.Unlock()
}

// ClearFaults removes all injected faults.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	s.faults = faults{}
	s.dropped = nil
	s.mu.Unlock()
}

// UploadedChunks reports how many chunk uploads were accepted.
func (s *Server) UploadedChunks() int64 {
	return s.uploadsAccepted.Load()
}

// DownloadedChunks reports how many chunk downloads were served.
func (s *Server) DownloadedChunks() int64 {
	return s.downloadsServed.Load()
}

// ResetCounters zeroes the chunk counters.
func (s *Server) ResetCounters() {
	s.uploadsAccepted.Store(0)
	s.downloadsServed.Store(0)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	offset, err := strconv.ParseInt(r.PathValue("offset"), 10, 64)
	if err != nil || offset < 0 {
		writeCode(w, api.CodeArgs)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.failUploads > 0 {
		s.faults.failUploads--
		w.WriteHeader(s.faults.failUploadStatus)

		return
	}

	if s.faults.stopUploads {
		if s.faults.uploadBudget <= 0 {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		s.faults.uploadBudget--
	}

	up, ok := s.uploads[r.PathValue("id")]
	if !ok {
		writeCode(w, api.CodeNotFound)
		return
	}

	if up.expired {
		writeCode(w, api.CodeExpired)
		return
	}

	if offset+int64(len(body)) > up.size || (len(body) == 0 && up.size > 0) {
		writeCode(w, api.CodeRange)
		return
	}

	copy(up.data[offset:], body)
	up.filled[offset] = len(body)
	s.uploadsAccepted.Add(1)

	var received int64
	for _, n := range up.filled {
		received += int64(n)
	}

	if received >= up.size && up.token == "" {
		up.token = "t" + megacrypto.B64Encode(mustRandom(24))
		s.completed[up.token] = up
	}

	_, _ = io.WriteString(w, up.token)
}

func (s *Server) handleDownloadChunk(w http.ResponseWriter, r *http.Request) {
	startStr, endStr, ok := strings.Cut(r.PathValue("range"), "-")
	start, err1 := strconv.ParseInt(startStr, 10, 64)
	end, err2 := strconv.ParseInt(endStr, 10, 64)

	if !ok || err1 != nil || err2 != nil || start < 0 || end < start {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.failDownloads > 0 {
		s.faults.failDownloads--
		w.WriteHeader(s.faults.failDownloadStatus)

		return
	}

	if s.faults.stopDownloads {
		if s.faults.downloadBudget <= 0 {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		s.faults.downloadBudget--
	}

	n, found := s.nodes[r.PathValue("handle")]
	if !found || n.Type != api.NodeFile {
		writeCode(w, api.CodeNotFound)
		return
	}

	if end >= int64(len(n.data)) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	out := append([]byte(nil), n.data[start:end+1]...)
	if s.faults.corruptDownload {
		out[len(out)/2] ^= 0x01
	}

	s.downloadsServed.Add(1)

	_, _ = w.Write(out)
}

func (s *Server) handleFileAttr(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	if !s.attrURLs[id] {
		writeCode(w, api.CodeNotFound)
		return
	}

	delete(s.attrURLs, id)

	raw := mustRandom(8)
	s.fileAttrs[megacrypto.B64Encode(raw)] = body

	_, _ = w.Write(raw)
}
