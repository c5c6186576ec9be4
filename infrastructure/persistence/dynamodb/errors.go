package dynamodb

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	pkgerrors "loci/pkg/errors"
)

// throttleCodes are service error codes that mean "try again later".
var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"TransactionInProgressException":         true,
}

// classifyError maps an SDK error onto the application error taxonomy.
func classifyError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.GetAppError(err) != nil {
		return err
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return pkgerrors.NewConflictError(operation + ": condition failed").WithCause(err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()] {
		return pkgerrors.NewUnavailableError("dynamodb").WithCause(err)
	}
	return pkgerrors.NewDatabaseError(operation, err)
}

// cancellationError turns a cancelled transaction into the conflict of the
// first operation whose condition failed.
func cancellationError(err error, ops []txOp) error {
	var cancelled *types.TransactionCanceledException
	if !errors.As(err, &cancelled) {
		return classifyError("TransactWriteItems", err)
	}
	for i, reason := range cancelled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(ops) {
			continue
		}
		return ops[i].conflict()
	}
	// No condition failed: the transaction lost to a concurrent one.
	return pkgerrors.NewConflictError("transaction was cancelled by a concurrent write").
		WithCode(pkgerrors.CodeVersionConflict).
		WithCause(err)
}
