package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/extract"
	"github.com/zombor/expense-tracker/internal/review"
	"github.com/zombor/expense-tracker/internal/scanning"
)

// stubRecognizer returns canned text, optionally waiting for release first
type stubRecognizer struct {
	text    string
	err     error
	release chan struct{}
}

func (s *stubRecognizer) Recognize(ctx context.Context, image []byte, contentType, lang string, progress scanning.ProgressFunc) (string, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func (s *stubRecognizer) Close() error {
	return nil
}

type scanStatus struct {
	State      string         `json:"state"`
	Generation uint64         `json:"generation"`
	Progress   int            `json:"progress"`
	Draft      *extract.Draft `json:"draft"`
	Error      string         `json:"error"`
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		service     *Service
		recognizer  *stubRecognizer
		gate        *review.Gate
		registry    *prometheus.Registry
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	errorOf := func(resp *http.Response) string {
		var body map[string]string
		decode(resp, &body)
		return body["error"]
	}

	upload := func(filename, contentType string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())
		return do(http.MethodPost, "/api/scan", &buf, mw.FormDataContentType())
	}

	status := func() scanStatus {
		var s scanStatus
		decode(do(http.MethodGet, "/api/scan", nil, ""), &s)
		return s
	}

	stateOf := func() string {
		return status().State
	}

	seed := func(id, amount, date string) {
		db.expenses[id] = &Expense{
			ID:        id,
			Amount:    decimal.RequireFromString(amount),
			Category:  "Food",
			Merchant:  "Cafe",
			Date:      date,
			CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, gate, auth, registry, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		all := regexp.MustCompile(`.*`)
		for _, method := range []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		} {
			ghttpServer.RouteToHandler(method, all, server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		service = NewServiceWithDeps(db,
			&sequenceIDGenerator{ids: []string{idOne, idTwo, idThree}},
			&mockTimeSource{now: time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)},
		)
		recognizer = &stubRecognizer{text: "JOE'S COFFEE\n10/15/2026\nLatte\nTOTAL $4.50\n"}
		registry = prometheus.NewRegistry()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		gate = review.NewGate(recognizer, review.WithMetrics(review.NewMetrics(registry)))
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
		gate.Close()
	})

	Describe("GET /api/test", func() {
		It("reports the server is working", func() {
			resp := do(http.MethodGet, "/api/test", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decode(resp, &body)
			Expect(body["message"]).To(Equal("Server is working!"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(errorOf(resp)).To(Equal("Unauthorized"))
		})

		It("accepts the configured credentials", func() {
			resp := do(http.MethodGet, "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/expenses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://localhost:3000")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("expenses", func() {
		It("lists an empty collection as an array", func() {
			resp := do(http.MethodGet, "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("creates an expense", func() {
			resp := do(http.MethodPost, "/api/expenses",
				strings.NewReader(`{"amount": 12.5, "category": "Food", "merchant": "Cafe", "date": "2026-10-15"}`),
				"application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var body map[string]any
			decode(resp, &body)
			Expect(body["id"]).To(Equal(idOne))
			Expect(body["amount"]).To(Equal("12.50"))
			Expect(db.expenses).To(HaveKey(idOne))
		})

		It("rejects an invalid expense", func() {
			resp := do(http.MethodPost, "/api/expenses",
				strings.NewReader(`{"amount": "", "date": "2026-10-15"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(resp)).To(ContainSubstring("amount is required"))
		})

		It("rejects a malformed body", func() {
			resp := do(http.MethodPost, "/api/expenses", strings.NewReader(`{`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(resp)).To(Equal("Invalid request body"))
		})

		It("returns a single expense", func() {
			seed(idOne, "3.00", "2026-10-01")
			resp := do(http.MethodGet, "/api/expenses/"+idOne, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decode(resp, &body)
			Expect(body["merchant"]).To(Equal("Cafe"))
		})

		It("returns 404 for a missing expense", func() {
			resp := do(http.MethodGet, "/api/expenses/"+idTwo, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorOf(resp)).To(Equal("Expense not found"))
		})

		It("updates an expense", func() {
			seed(idOne, "3.00", "2026-10-01")
			resp := do(http.MethodPut, "/api/expenses/"+idOne,
				strings.NewReader(`{"amount": "7.25", "category": "Bills", "date": "2026-10-02"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Message string         `json:"message"`
				Expense map[string]any `json:"expense"`
			}
			decode(resp, &body)
			Expect(body.Message).To(Equal("Expense updated"))
			Expect(body.Expense["amount"]).To(Equal("7.25"))
		})

		It("deletes an expense and echoes it", func() {
			seed(idOne, "3.00", "2026-10-01")
			resp := do(http.MethodDelete, "/api/expenses/"+idOne, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Message string         `json:"message"`
				Expense map[string]any `json:"expense"`
			}
			decode(resp, &body)
			Expect(body.Message).To(Equal("Expense deleted"))
			Expect(body.Expense["id"]).To(Equal(idOne))
			Expect(db.expenses).To(BeEmpty())
		})

		It("returns 404 when deleting a missing expense", func() {
			resp := do(http.MethodDelete, "/api/expenses/"+idOne, nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("returns 500 when the database fails", func() {
			db.listErr = fmt.Errorf("connection refused")
			resp := do(http.MethodGet, "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(resp)).To(Equal("Server error"))
		})

		It("summarizes expenses", func() {
			seed(idOne, "3.00", "2026-10-01")
			seed(idTwo, "4.50", "2026-10-02")
			resp := do(http.MethodGet, "/api/expenses/summary", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var summary Summary
			decode(resp, &summary)
			Expect(summary.Total).To(Equal("7.50"))
			Expect(summary.ByDate).To(HaveLen(2))
		})

		It("exports a workbook", func() {
			seed(idOne, "3.00", "2026-10-01")
			resp := do(http.MethodGet, "/api/expenses/export.xlsx", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("expenses.xlsx"))
			data, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(data[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("scan session", func() {
		It("walks an image from upload to saved expense", func() {
			resp := upload("receipt.jpg", "image/jpeg", []byte("jpeg bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			var accepted scanStatus
			decode(resp, &accepted)
			Expect(accepted.Generation).To(Equal(uint64(1)))

			Eventually(stateOf).Should(Equal("reviewing"))
			s := status()
			Expect(s.Draft).To(HaveValue(Equal(extract.Draft{
				Amount:   "4.50",
				Merchant: "JOE'S COFFEE",
				Date:     "2026-10-15",
				Category: "Other",
				Notes:    "Scanned from receipt",
			})))

			resp = do(http.MethodGet, "/api/scan/text", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var text map[string]string
			decode(resp, &text)
			Expect(text["text"]).To(ContainSubstring("TOTAL $4.50"))

			resp = do(http.MethodPatch, "/api/scan/draft", strings.NewReader(`{"category": "Food"}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var draft extract.Draft
			decode(resp, &draft)
			Expect(draft.Category).To(Equal("Food"))

			resp = do(http.MethodPost, "/api/scan/confirm", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var saved map[string]any
			decode(resp, &saved)
			Expect(saved["amount"]).To(Equal("4.50"))
			Expect(saved["category"]).To(Equal("Food"))

			Expect(stateOf()).To(Equal("idle"))
			Expect(db.expenses).To(HaveKey(idOne))
		})

		It("rejects files that are not images", func() {
			resp := upload("receipt.pdf", "application/pdf", []byte("%PDF-1.7"))
			Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
			Expect(errorOf(resp)).To(Equal("Please upload an image file"))
			Expect(stateOf()).To(Equal("idle"))
		})

		It("falls back to the file extension for generic uploads", func() {
			resp := upload("IMG_0001.HEIC", "application/octet-stream", []byte("heic bytes"))
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			resp.Body.Close()
		})

		It("requires a file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.WriteField("note", "no file here")).To(Succeed())
			Expect(mw.Close()).To(Succeed())

			resp := do(http.MethodPost, "/api/scan", &buf, mw.FormDataContentType())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(resp)).To(ContainSubstring("No file was selected"))
		})

		When("a scan is still running", func() {
			BeforeEach(func() {
				recognizer.release = make(chan struct{})
			})

			It("refuses another upload", func() {
				resp := upload("one.jpg", "image/jpeg", []byte("one"))
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				resp.Body.Close()

				resp = upload("two.jpg", "image/jpeg", []byte("two"))
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(errorOf(resp)).To(Equal(review.ErrScanInProgress.Error()))
			})

			It("can be cancelled", func() {
				resp := upload("one.jpg", "image/jpeg", []byte("one"))
				resp.Body.Close()

				resp = do(http.MethodPost, "/api/scan/cancel", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var s scanStatus
				decode(resp, &s)
				Expect(s.State).To(Equal("idle"))
			})
		})

		When("the draft cannot be saved", func() {
			BeforeEach(func() {
				recognizer.text = "nothing useful"
			})

			It("keeps the draft under review", func() {
				resp := upload("receipt.png", "image/png", []byte("png"))
				resp.Body.Close()
				Eventually(stateOf).Should(Equal("reviewing"))

				resp = do(http.MethodPost, "/api/scan/confirm", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("amount is required"))
				Expect(stateOf()).To(Equal("reviewing"))
				Expect(db.expenses).To(BeEmpty())

				resp = do(http.MethodPatch, "/api/scan/draft", strings.NewReader(`{"amount": "2.00"}`), "application/json")
				resp.Body.Close()
				resp = do(http.MethodPost, "/api/scan/confirm", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = fmt.Errorf("tesseract: exit status 1")
			})

			It("reports the error and returns to idle", func() {
				resp := upload("receipt.png", "image/png", []byte("png"))
				resp.Body.Close()

				Eventually(func() string { return status().Error }).Should(ContainSubstring("exit status 1"))
				Expect(stateOf()).To(Equal("idle"))
			})
		})

		It("refuses to confirm without a draft", func() {
			resp := do(http.MethodPost, "/api/scan/confirm", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(errorOf(resp)).To(Equal(review.ErrNoDraft.Error()))
		})

		It("refuses to cancel without a session", func() {
			resp := do(http.MethodPost, "/api/scan/cancel", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("refuses edits and raw text without a draft", func() {
			resp := do(http.MethodPatch, "/api/scan/draft", strings.NewReader(`{}`), "application/json")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()

			resp = do(http.MethodGet, "/api/scan/text", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})
	})

	Describe("GET /metrics", func() {
		It("exposes the scan metrics", func() {
			resp := upload("receipt.pdf", "application/pdf", []byte("%PDF"))
			resp.Body.Close()

			resp = do(http.MethodGet, "/metrics", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`expense_tracker_scan_outcomes_total{outcome="rejected"} 1`))
		})
	})
})
