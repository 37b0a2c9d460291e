package rest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dgaz9/screenly/internal/api/shared/dto"
	"github.com/dgaz9/screenly/internal/domain"
)

// bindAssetRequest decodes an asset payload from either encoding the API
// has historically accepted: a raw JSON body, or a form submission whose
// "model" field holds the JSON as a string.
func bindAssetRequest(c *gin.Context) (dto.AssetRequest, error) {
	var req dto.AssetRequest

	switch c.ContentType() {
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		model := c.PostForm("model")
		if model == "" {
			return req, domain.Validationf("form submissions require a model field")
		}
		if err := json.Unmarshal([]byte(model), &req); err != nil {
			return req, domain.Validationf("invalid model payload: %v", err)
		}
	default:
		if err := c.ShouldBindJSON(&req); err != nil {
			return req, domain.Validationf("invalid request body: %v", err)
		}
	}

	return req, nil
}

// parseContentRange extracts the declared start offset from a
// "bytes <start>-..." Content-Range header. An absent header means the
// chunk replaces the whole buffer, reported as offset -1.
func parseContentRange(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return -1, nil
	}

	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, domain.Validationf("malformed Content-Range %q", header)
	}
	start, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, domain.Validationf("malformed Content-Range %q", header)
	}

	offset, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64)
	if err != nil || offset < 0 {
		return 0, domain.Validationf("malformed Content-Range offset %q", start)
	}
	return offset, nil
}

// splitOrderedIDs parses the reorder endpoint's comma-delimited id list
func splitOrderedIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
