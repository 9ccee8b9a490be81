package stages

import (
	"context"
	"fmt"
	"time"

	"mattercertis/internal/extractor"
	"mattercertis/internal/retrypolicy"
	"mattercertis/models"
)

// DetailParseInput is one fetched detail page awaiting field extraction.
type DetailParseInput struct {
	URL     string
	Content []byte
}

// DetailParse runs S4: extract label/value fields and the Markdown
// description off a fetched detail page, producing a models.ProductDetail
// (each Item.In is a DetailParseInput).
func DetailParse(ctx context.Context, items []Item, cfg Config, ex *extractor.Extractor) StageResult {
	return run(ctx, models.StageDetailParse, items, cfg, func(_ context.Context, item Item) (interface{}, retrypolicy.ErrorClass, error) {
		in, ok := item.In.(DetailParseInput)
		if !ok {
			return nil, retrypolicy.ClassUnknown, fmt.Errorf("detail_parse: item %s: expected DetailParseInput, got %T", item.Key, item.In)
		}

		fields, err := ex.ExtractDetailFields(in.Content)
		if err != nil {
			return nil, retrypolicy.ClassParsing, fmt.Errorf("detail_parse: %s: %w", in.URL, err)
		}

		description := ""
		if fields.DescriptionHTML != "" {
			md, err := ex.DescriptionMarkdown(fields.DescriptionHTML)
			if err != nil {
				return nil, retrypolicy.ClassParsing, fmt.Errorf("detail_parse: %s: description markdown: %w", in.URL, err)
			}
			description = md
		}

		now := time.Now()
		detail := &models.ProductDetail{
			URL:                in.URL,
			DeviceType:         fields.DeviceType,
			CertificationID:    fields.CertificationID,
			CertificationDate:  extractor.ParseCertificationDate(fields.CertificationDate),
			SoftwareVersion:    fields.SoftwareVersion,
			HardwareVersion:    fields.HardwareVersion,
			FirmwareVersion:    fields.FirmwareVersion,
			VID:                fields.VID,
			PID:                fields.PID,
			FamilyID:           fields.FamilyID,
			FamilyName:         fields.FamilyName,
			SpecificationVer:   fields.SpecificationVer,
			TransportInterface: fields.TransportInterface,
			Description:        description,
			ProgramType:        fields.ProgramType,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return detail, retrypolicy.ClassUnknown, nil
	})
}
