package temporal

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/openai"
	"claims-orchestrator/internal/storage"
)

type activityTrace struct {
	mu sync.Mutex

	startedOrder   []string
	completedOrder []string

	intakeIn  *IntakeInput
	intakeOut *ClaimWorkflowResult
}

func (t *activityTrace) recordStarted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedOrder = append(t.startedOrder, name)
}

func (t *activityTrace) recordCompleted(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completedOrder = append(t.completedOrder, name)
}

var _ = Describe("ClaimWorkflow blackbox happy path", func() {
	It("uploads a claim document, runs the pipeline in one activity, and completes", func() {
		llm := &stubLLM{responses: []string{confidentClaim}}
		f := newFixture(GinkgoT(), llm)
		env := newWorkflowEnv(f)
		trace := &activityTrace{}

		env.SetOnActivityStartedListener(func(info *activity.Info, _ context.Context, args converter.EncodedValues) {
			trace.recordStarted(info.ActivityType.Name)
			if info.ActivityType.Name == "IntakeActivity" {
				var in IntakeInput
				_ = args.Get(&in)
				trace.mu.Lock()
				trace.intakeIn = &in
				trace.mu.Unlock()
			}
		})
		env.SetOnActivityCompletedListener(func(info *activity.Info, result converter.EncodedValue, _ error) {
			trace.recordCompleted(info.ActivityType.Name)
			if info.ActivityType.Name == "IntakeActivity" {
				var out ClaimWorkflowResult
				_ = result.Get(&out)
				trace.mu.Lock()
				trace.intakeOut = &out
				trace.mu.Unlock()
			}
		})

		documentID := "doc-happy-blackbox-1"
		filename := "cms1500_happy_path.txt"
		uploaded := []byte("CMS-1500. Patient Jane Roe, member M-1. Bayside Clinic NPI 1234567893. 2025-02-10 99213 x1 $125.00")

		By("starting the workflow with the uploaded document")
		env.ExecuteWorkflow(ClaimWorkflow, ClaimWorkflowInput{
			DocumentID: documentID,
			Filename:   filename,
			Content:    uploaded,
			Priority:   domain.PriorityHigh,
		})

		By("validating the workflow completes")
		Expect(env.IsWorkflowCompleted()).To(BeTrue())
		Expect(env.GetWorkflowError()).ToNot(HaveOccurred())

		var result ClaimWorkflowResult
		Expect(env.GetWorkflowResult(&result)).To(Succeed())
		Expect(result.ClaimID).To(Equal("CLM-" + documentID))
		Expect(result.FinalStatus).To(Equal(domain.StatusCompleted))
		Expect(result.Success).To(BeTrue())

		By("validating activity inputs and outputs")
		Expect(trace.startedOrder).To(Equal([]string{"IntakeActivity"}))
		Expect(trace.completedOrder).To(Equal([]string{"IntakeActivity"}))
		Expect(trace.intakeIn).ToNot(BeNil())
		Expect(trace.intakeIn.DocumentID).To(Equal(documentID))
		Expect(trace.intakeIn.Content).To(Equal(uploaded))
		Expect(trace.intakeOut).ToNot(BeNil())
		Expect(trace.intakeOut.FinalStatus).To(Equal(domain.StatusCompleted))

		By("validating the model was prompted once with the document text")
		Expect(llm.calls).To(HaveLen(1))
		Expect(llm.calls[0].SystemPrompt).To(Equal(openai.BASE_SYSTEM))
		Expect(llm.calls[0].UserPrompt).To(ContainSubstring("Bayside Clinic NPI 1234567893"))

		By("validating persisted side effects")
		st, err := f.states.GetState(context.Background(), result.ClaimID)
		Expect(err).ToNot(HaveOccurred())
		Expect(st.Record.Priority).To(Equal(domain.PriorityHigh))
		Expect(st.Record.Metadata).To(HaveKeyWithValue("filename", filename))
		Expect(string(st.ExtractedClaim)).To(MatchJSON(confidentClaim))
		Expect(st.QualityResult).ToNot(BeEmpty())
		Expect(string(st.AdjudicationResult)).To(ContainSubstring(`"decision":"approved"`))

		var statuses []domain.ClaimStatus
		for _, h := range st.Record.ProcessingHistory {
			statuses = append(statuses, h.Status)
		}
		Expect(statuses).To(Equal([]domain.ClaimStatus{
			domain.StatusReceived,
			domain.StatusParsing,
			domain.StatusExtracting,
			domain.StatusValidating,
			domain.StatusAdjudicating,
			domain.StatusCompleted,
		}))

		index, err := f.blobs.GetDocument(context.Background(), storage.IndexKey(result.ClaimID))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(index)).To(ContainSubstring(`"claim_number":"A-100"`))

	})
})
