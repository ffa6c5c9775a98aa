package queue_test

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"storepulse.app/analysis/internal/queue"
)

var _ = Describe("ParseMessage", func() {
	It("parses a review analysis message", func() {
		msg, err := queue.ParseMessage(redis.XMessage{
			ID: "1700000000000-0",
			Values: map[string]any{
				"task_type":  "review_analysis",
				"review_id":  "42",
				"source":     "review_created",
				"attempt":    "2",
				"trace_id":   "4bf92f3577b34da6a3ce929d0e0e4736",
				"last_error": "loading review 42: connection reset",
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.ID).To(Equal("1700000000000-0"))
		Expect(msg.TaskType).To(Equal(queue.TaskTypeReviewAnalysis))
		Expect(msg.ReviewID).To(Equal(int64(42)))
		Expect(msg.Source).To(Equal(queue.SourceReviewCreated))
		Expect(msg.Attempt).To(Equal(2))
		Expect(msg.TraceID).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))
		Expect(msg.LastError).To(ContainSubstring("connection reset"))
		Expect(msg.NotBefore.IsZero()).To(BeTrue())
	})

	It("defaults the task type, attempt and source", func() {
		msg, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{"review_id": "7"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.TaskType).To(Equal(queue.TaskTypeReviewAnalysis))
		Expect(msg.Attempt).To(Equal(1))
		Expect(msg.Source).To(Equal(queue.SourceManual))
	})

	It("reads the retry delay", func() {
		at := time.UnixMilli(1700000123456)
		msg, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: map[string]any{
			"review_id":  "7",
			"not_before": "1700000123456",
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.NotBefore.Equal(at)).To(BeTrue())
	})

	DescribeTable("rejects malformed messages",
		func(values map[string]any) {
			_, err := queue.ParseMessage(redis.XMessage{ID: "1-0", Values: values})
			Expect(err).To(HaveOccurred())
		},
		Entry("missing review id", map[string]any{"task_type": "review_analysis"}),
		Entry("non-numeric review id", map[string]any{"review_id": "abc"}),
		Entry("non-numeric attempt", map[string]any{"review_id": "1", "attempt": "x"}),
		Entry("unknown task type", map[string]any{"task_type": "repo_sync", "review_id": "1"}),
	)
})

var _ = Describe("MessageValues", func() {
	It("encodes only the fields that are set", func() {
		values := queue.MessageValues(queue.Message{ReviewID: 9, Attempt: 0})
		Expect(values).To(Equal(map[string]any{
			"task_type": "review_analysis",
			"review_id": int64(9),
			"attempt":   1,
		}))
	})

	It("survives a trip through the stream encoding", func() {
		original := queue.Message{
			ReviewID:  9,
			Source:    queue.SourceReanalyze,
			Attempt:   3,
			TraceID:   "abc",
			LastError: "boom",
			NotBefore: time.UnixMilli(1700000000000),
		}

		// Redis hands every field back as a string.
		raw := map[string]any{}
		for k, v := range queue.MessageValues(original) {
			raw[k] = fmt.Sprint(v)
		}
		parsed, err := queue.ParseMessage(redis.XMessage{ID: "5-0", Values: raw})
		Expect(err).NotTo(HaveOccurred())

		Expect(parsed.ReviewID).To(Equal(original.ReviewID))
		Expect(parsed.Source).To(Equal(original.Source))
		Expect(parsed.Attempt).To(Equal(original.Attempt))
		Expect(parsed.TraceID).To(Equal(original.TraceID))
		Expect(parsed.LastError).To(Equal(original.LastError))
		Expect(parsed.NotBefore.Equal(original.NotBefore)).To(BeTrue())
	})

	It("names a per-review dedupe marker", func() {
		Expect(queue.DedupeKey(42)).To(Equal("review_analysis:enqueued:42"))
	})
})
