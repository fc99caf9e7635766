package finding

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyARN = "arn:aws:kms:us-east-1:123456789012:key/1234abcd-12ab-34cd-56ef-1234567890ab"

func TestMarshal_RoundTrip(t *testing.T) {
	analyzed := time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC)
	created := time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC)
	findings := []Finding{
		{
			ResourceARN:          keyARN,
			ResourceType:         ResourceTypeKMSKey,
			ResourceOwnerAccount: "123456789012",
			IsPublic:             true,
			Status:               StatusActive,
			AnalyzedAt:           &analyzed,
			CreatedAt:            &created,
			UpdatedAt:            &analyzed,
			Actions:              []string{"kms:Decrypt"},
			SharedVia:            []string{"POLICY"},
		},
	}

	data, err := Marshal(findings)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resourceArn": "`+keyARN+`"`)
	assert.Contains(t, string(data), `"analyzedAt": "2024-03-01T12:30:45.123Z"`)
	assert.Contains(t, string(data), `"isPublic": true`)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, findings[0].ResourceARN, decoded[0].ResourceARN)
	assert.True(t, findings[0].AnalyzedAt.Equal(*decoded[0].AnalyzedAt))
	assert.True(t, findings[0].CreatedAt.Equal(*decoded[0].CreatedAt))
	assert.Equal(t, findings[0].Actions, decoded[0].Actions)
	assert.Equal(t, findings[0].Status, decoded[0].Status)
}

func TestMarshal_RoundTripEmptySlices(t *testing.T) {
	analyzed := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	findings := []Finding{
		{
			ResourceARN:  keyARN,
			ResourceType: ResourceTypeKMSKey,
			IsPublic:     true,
			Status:       StatusActive,
			AnalyzedAt:   &analyzed,
			Actions:      []string{},
		},
		{
			ResourceARN: keyARN + "-2",
			IsPublic:    true,
			Status:      StatusActive,
			SharedVia:   []string{},
		},
	}

	data, err := Marshal(findings)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, findings, decoded)
	assert.NotNil(t, decoded[0].Actions)
	assert.Nil(t, decoded[0].SharedVia)
	assert.Nil(t, decoded[1].Actions)
}

func TestMarshal_Nil(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestMarshal_OmitsEmptyTimestamps(t *testing.T) {
	data, err := Marshal([]Finding{{ResourceARN: keyARN, IsPublic: true, Status: StatusActive}})
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "analyzedAt"))
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func TestARNs(t *testing.T) {
	arns := ARNs([]Finding{{ResourceARN: "a"}, {ResourceARN: "b"}})
	assert.Equal(t, []string{"a", "b"}, arns)
	assert.Empty(t, ARNs(nil))
}

func TestResourceError(t *testing.T) {
	cause := errors.New("access denied")
	err := ResourceError{ARN: keyARN, Err: cause}

	assert.Contains(t, err.Error(), keyARN)
	assert.Contains(t, err.Error(), "access denied")
	assert.ErrorIs(t, err, cause)
}

func TestReport_Status(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   RunStatus
	}{
		{"clean", Report{AnalyzerARN: "arn:analyzer"}, RunClean},
		{"no analyzer", Report{}, RunFailed},
		{"analyzer error", Report{AnalyzerARN: "arn:analyzer", AnalyzerErr: errors.New("boom")}, RunFailed},
		{"keys error", Report{AnalyzerARN: "arn:analyzer", KeysErr: errors.New("boom")}, RunPartial},
		{"pending", Report{AnalyzerARN: "arn:analyzer", Pending: []string{keyARN}}, RunPartial},
		{"scan failure", Report{AnalyzerARN: "arn:analyzer", ScanFailures: []ResourceError{{ARN: keyARN}}}, RunPartial},
		{"fetch failure", Report{AnalyzerARN: "arn:analyzer", FetchFailures: []ResourceError{{ARN: keyARN}}}, RunPartial},
		{"poll error", Report{AnalyzerARN: "arn:analyzer", PollErrors: []error{errors.New("throttled")}}, RunPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.Status())
		})
	}
}

func TestReport_HasFindings(t *testing.T) {
	assert.False(t, Report{}.HasFindings())
	assert.True(t, Report{Findings: []Finding{{ResourceARN: keyARN}}}.HasFindings())
}

func TestResolution(t *testing.T) {
	report := Report{
		CustomerKeys:  []string{"public", "private", "pending", "fetch-failed", "scan-failed"},
		Analyzed:      []string{"public", "private", "fetch-failed"},
		Pending:       []string{"pending"},
		ScanFailures:  []ResourceError{{ARN: "scan-failed", Err: errors.New("throttled")}},
		FetchFailures: []ResourceError{{ARN: "fetch-failed", Err: errors.New("throttled")}},
		Findings:      []Finding{{ResourceARN: "public", IsPublic: true, Status: StatusActive}},
	}
	res := report.Resolution()

	assert.False(t, res.Resolved("public"))
	assert.True(t, res.Resolved("private"), "analyzed and not public")
	assert.False(t, res.Resolved("pending"))
	assert.False(t, res.Resolved("fetch-failed"))
	assert.False(t, res.Resolved("scan-failed"))
	assert.True(t, res.Resolved("deleted"), "no longer listed")
}

func TestResolution_IncompleteListing(t *testing.T) {
	report := Report{
		CustomerKeys: []string{"a"},
		Analyzed:     []string{"a"},
		KeysErr:      errors.New("list keys: throttled"),
	}
	res := report.Resolution()

	assert.True(t, res.Resolved("a"))
	assert.False(t, res.Resolved("unlisted"))
}
