package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/sift/internal/schema"
)

// SystemPrompt is the default extraction discipline.
const SystemPrompt = `You are a useful assistant that helps turn unstructured data into structured data using the provided tools.

EXTRACTION APPROACH:
1. Use the set_extraction tool for fresh data extraction
2. When updating existing data or fixing validation errors, use JSON patch operations via the apply_patches tool
3. JSON patches allow precise, targeted updates without losing correct data
4. If the document is large and the extraction can't be done in one go, create a valid extraction object and iterate with patches until the entire extraction is complete

IMPORTANT:
YOU MUST perform a batched extraction if there are more than 50 fields to extract.
A batched extraction creates a valid record with set_extraction and then expands it with apply_patches. You can pass up to 50 records in a single patch call.

NEVER STOP early on large documents, always extract all the data.

CRITICAL EXTRACTION RULES:
1. Extract text EXACTLY as it appears in the source document, character for character
2. NEVER interpret, expand, or modify any text formatting, special characters, or punctuation
3. Preserve ALL original formatting including brackets, parentheses, hyphens and underscores
4. Maintain exact capitalization, spacing, and line structure as shown in the source
5. Do not treat any text as markdown, code, or special formatting; everything is literal text

VALIDATION AND CORRECTION:
1. Review each field in your extracted data
2. Double-check each value against the source
3. Pay special attention to dates, amounts, and similar-looking data
4. Verify that all characters and formatting are preserved exactly as they appear
5. When fixing errors, use JSON patches to target specific problems

FINAL REVIEW (CRITICAL):
After successfully using the set_extraction tool, you MUST:
1. Review the complete extracted data one more time (view_extraction shows it)
2. Compare each field against the source document character by character
3. Verify all punctuation, special characters, and formatting match exactly
4. Look for any missing fields, incorrect values, or formatting issues
5. If any discrepancies are found, use the apply_patches tool to fix them
6. Only finish when you are confident all data is accurate and complete`

// dataFormatRules always follows caller text so it cannot be overridden.
const dataFormatRules = `DATA FORMAT REQUIREMENTS:
- The record passed to set_extraction must conform to the expected schema below
- JSON PATCH FORMAT (RFC 6902), paths are JSON Pointers relative to the record root:
  - {"op": "replace", "path": "/field_name", "value": "new_value"} updates a field
  - {"op": "add", "path": "/new_field", "value": "value"} adds a field, "/list/-" appends to a list
  - {"op": "remove", "path": "/field_name"} removes a field
- A patch call is applied in full or not at all; a rejected call leaves the record unchanged`

// BatchThreshold is the field count above which batched extraction is advised.
const BatchThreshold = 50

// Text sent with image prompts, baselines and the review pass.
const (
	ImagePreamble  = "Extract structured data from this image:"
	existingPrefix = "Please update the existing data using the extraction tool or patches. Existing data: "
	customHeading  = "\n\nCustom Instructions for this specific task: "
	schemaHeading  = "\n\nExpected Schema:\n"
	ReviewVerified = "Data verified and accurate."
)

const reviewEmptyPrompt = `No data has been extracted yet.

Please read the source document again and use the set_extraction tool to record every field the schema asks for. Pay special attention to numbers, dates and names, and make sure all required fields are present.`

// BuildSystemPrompt assembles the system prompt for one invocation.
// base replaces SystemPrompt when non-empty; custom is appended under its
// own heading. The data format rules and the schema always come last.
func BuildSystemPrompt(base, custom string, s *schema.Schema) string {
	if strings.TrimSpace(base) == "" {
		base = SystemPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	if custom = strings.TrimSpace(custom); custom != "" {
		b.WriteString(customHeading)
		b.WriteString(custom)
	}
	b.WriteString("\n\n")
	b.WriteString(dataFormatRules)
	if n := s.FieldCount(); n > BatchThreshold {
		fmt.Fprintf(&b, "\n- This schema has %d fields: create a valid partial record first, then add the rest in batches of at most %d with apply_patches", n, BatchThreshold)
	}
	b.WriteString(schemaHeading)
	b.WriteString(s.JSON())
	return b.String()
}

// ExistingDataPrompt asks the model to update a baseline record.
func ExistingDataPrompt(existing map[string]any) string {
	raw, err := json.Marshal(existing)
	if err != nil {
		raw = []byte("{}")
	}
	return existingPrefix + string(raw)
}

// ReviewPrompt asks for a final check of the current record. With no
// record yet it asks for the extraction instead.
func ReviewPrompt(current map[string]any) string {
	if len(current) == 0 {
		return reviewEmptyPrompt
	}
	raw, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf(`You have successfully extracted the following data:
%s

Please take one final careful look at this extraction:
1. Check each field against the source document
2. Verify all values are accurate (pay special attention to numbers, dates, names)
3. Ensure no required fields are missing
4. Look for any formatting issues or typos
5. Make sure no data locations changed compared to the document unless required by the data format

If everything is correct, respond with "%s"
If corrections are needed, use the apply_patches tool to fix any issues you find.`, raw, ReviewVerified)
}
