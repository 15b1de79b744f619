package main

import (
	"encoding/json"

	"github.com/sigma-2026/pdf2img/internal/errs"
	"github.com/sigma-2026/pdf2img/internal/model"
)

// convertRequestBody is the wire shape of spec §6's convert request JSON.
type convertRequestBody struct {
	URL         string          `json:"url"`
	GlobalPadID string          `json:"globalPadId"`
	Pages       json.RawMessage `json:"pages"`
}

// parsePages resolves the "pages" field into a model.PageSelector. Absent
// or null means "unspecified" (spec §4.5 step 2's default FirstN(6), via
// the zero-value N that planFirstBatch substitutes its default for);
// "all" and an integer array map directly onto the other two selector
// cases.
func parsePages(raw json.RawMessage) (model.PageSelector, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.FirstN(0), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "all" {
			return model.AllPages(), nil
		}
		return model.PageSelector{}, errs.New(errs.InvalidInput, `pages must be an Array or String as "all"`)
	}

	var asInts []int
	if err := json.Unmarshal(raw, &asInts); err == nil {
		// spec §8 boundary behavior: an empty array means "no pages
		// singled out," which is the same request as "all."
		if len(asInts) == 0 {
			return model.AllPages(), nil
		}
		return model.ExplicitPages(asInts), nil
	}

	return model.PageSelector{}, errs.New(errs.InvalidInput, `pages must be an Array or String as "all"`)
}

// envelope is the {code, message, data} response wrapper spec §6 uses for
// every JSON response.
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// pageDTO is one entry of a successful convert response's "data" array.
// Exactly one of OutputPath/CosKey/Buffer is populated, matching whichever
// sink policy produced the PageResult.
type pageDTO struct {
	PageNum      int    `json:"pageNum"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	OutputPath   string `json:"outputPath,omitempty"`
	CosKey       string `json:"cosKey,omitempty"`
	Buffer       []byte `json:"buffer,omitempty"`
	Success      bool   `json:"success"`
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func toPageDTO(p model.PageResult) pageDTO {
	d := pageDTO{
		PageNum:      p.PageNum,
		Width:        p.Width,
		Height:       p.Height,
		Success:      p.Success,
		ErrorKind:    p.ErrorKind,
		ErrorMessage: p.ErrorMsg,
	}
	switch p.Output {
	case model.OutputFilePath:
		d.OutputPath = p.FilePath
	case model.OutputSinkKey:
		d.CosKey = p.SinkKey
	case model.OutputBytes:
		d.Buffer = p.Bytes
	}
	return d
}
