package orchestrator

import "github.com/fluxfolio/engine/pkg/models"

// Step names as surfaced to polling clients. These are stable identifiers:
// the frontend looks steps up by name, so renaming one is a breaking change.
const (
	StepAddingPortfolio = "Adding User Portfolio"

	StepApproveFunds    = "Approve Funds"
	StepSwapToBundle    = "Swap to Bundle"
	StepUpdatePortfolio = "Update Portfolio"

	StepPrepareRebalance = "Preparing Rebalance Tx"
	StepExecuteRebalance = "Executing Rebalance On-Chain"

	StepCheckBalance     = "Check Balance"
	StepInitiateWithdraw = "Initiate On-Chain Withdraw"

	StepValidateAgent = "Validating Agent"
	StepLinkAgent     = "Linking to Portfolio"
)

var stepSequences = map[models.JobType][]string{
	models.JobCreatePortfolio: {StepAddingPortfolio},
	models.JobBuyBundle:       {StepApproveFunds, StepSwapToBundle, StepUpdatePortfolio},
	models.JobRebalance:       {StepPrepareRebalance, StepExecuteRebalance},
	models.JobWithdraw:        {StepCheckBalance, StepInitiateWithdraw},
	models.JobAssignAgent:     {StepValidateAgent, StepLinkAgent},
}

// StepsFor returns the ordered step names a job of the given type runs
// through, or nil for an unknown type.
func StepsFor(jobType models.JobType) []string {
	steps, ok := stepSequences[jobType]
	if !ok {
		return nil
	}
	out := make([]string, len(steps))
	copy(out, steps)
	return out
}
