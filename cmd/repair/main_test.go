package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loci/application/services/cascade"
	"loci/domain/core/entities"
)

func sampleReport(dryRun bool) *cascade.RepairReport {
	return &cascade.RepairReport{
		Report: cascade.Report{
			Root:    entities.RecordRef{Kind: "ORPHANS"},
			Deleted: []entities.RecordRef{{Kind: entities.KindContentItem, ID: "item-1"}},
			DryRun:  dryRun,
		},
		ScannedItems: 3,
	}
}

func TestPrintReportText(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	repairJSON = false

	require.NoError(t, printReport(cmd, sampleReport(true)))
	assert.Contains(t, out.String(), "Scanned 3 content items")
	assert.Contains(t, out.String(), "Would delete 1 orphaned records")
	assert.Contains(t, out.String(), "CONTENT_ITEM item-1")
	assert.Contains(t, out.String(), "--apply")

	out.Reset()
	require.NoError(t, printReport(cmd, sampleReport(false)))
	assert.Contains(t, out.String(), "Deleted 1 orphaned records")
	assert.NotContains(t, out.String(), "--apply")
}

func TestPrintReportJSON(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	repairJSON = true
	defer func() { repairJSON = false }()

	require.NoError(t, printReport(cmd, sampleReport(true)))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, true, decoded["dryRun"])
	assert.EqualValues(t, 3, decoded["scannedItems"])
}

func TestApplyFlagDefaultsToPreview(t *testing.T) {
	flag := rootCmd.Flags().Lookup("apply")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
