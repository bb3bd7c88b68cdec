// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

package reorganize

import (
	"sort"
	"strings"
)

// unknownPage sorts records without page information after everything
// else.
const unknownPage = 1 << 30

// tableRecord is one table image reference gathered from a content
// list.
type tableRecord struct {
	ImgPath string
	Caption string
	PageIdx int
	Source  string
}

// captionFromNodes flattens a caption node list into one string.
// MinerU emits captions as either plain strings or objects with a
// content field.
func captionFromNodes(nodes any) string {
	list, ok := nodes.([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, node := range list {
		switch value := node.(type) {
		case string:
			parts = append(parts, value)
		case map[string]any:
			if content, ok := value["content"].(string); ok {
				parts = append(parts, content)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// parseLegacyTableItem reads one entry of the flat legacy content
// list. Returns false for anything that is not a usable table record.
func parseLegacyTableItem(item map[string]any) (tableRecord, bool) {
	if item["type"] != "table" {
		return tableRecord{}, false
	}
	imgPath, ok := item["img_path"].(string)
	if !ok || imgPath == "" {
		return tableRecord{}, false
	}

	var caption string
	switch raw := item["table_caption"].(type) {
	case []any:
		caption = captionFromNodes(raw)
	case string:
		caption = strings.TrimSpace(raw)
	}

	pageIdx := unknownPage
	if page, ok := item["page_idx"].(float64); ok {
		pageIdx = int(page)
	}

	return tableRecord{
		ImgPath: imgPath,
		Caption: caption,
		PageIdx: pageIdx,
		Source:  "legacy",
	}, true
}

// parseV2TableItems walks the per-page v2 content tree and collects
// every table node carrying an image source. The page index comes from
// the node's position in the top-level list.
func parseV2TableItems(contentV2 any) []tableRecord {
	pages, ok := contentV2.([]any)
	if !ok {
		return nil
	}

	var records []tableRecord
	for pageIdx, page := range pages {
		walkNodes(page, func(node map[string]any) {
			if node["type"] != "table" {
				return
			}
			content, ok := node["content"].(map[string]any)
			if !ok {
				return
			}
			imageSource, ok := content["image_source"].(map[string]any)
			if !ok {
				return
			}
			imgPath, ok := imageSource["path"].(string)
			if !ok || imgPath == "" {
				return
			}
			records = append(records, tableRecord{
				ImgPath: imgPath,
				Caption: captionFromNodes(content["table_caption"]),
				PageIdx: pageIdx,
				Source:  "v2",
			})
		})
	}
	return records
}

// walkNodes visits every object in an arbitrarily nested JSON value.
func walkNodes(node any, visit func(map[string]any)) {
	switch value := node.(type) {
	case []any:
		for _, item := range value {
			walkNodes(item, visit)
		}
	case map[string]any:
		visit(value)
		for _, child := range value {
			walkNodes(child, visit)
		}
	}
}

// collectTableImages merges legacy and v2 records by image path. The
// longest caption wins; a known page index fills in an unknown one.
// The result is ordered by page, then by first appearance.
func collectTableImages(legacyContent, v2Content any) []tableRecord {
	merged := map[string]*tableRecord{}
	var order []string

	upsert := func(record tableRecord) {
		existing, ok := merged[record.ImgPath]
		if !ok {
			copied := record
			merged[record.ImgPath] = &copied
			order = append(order, record.ImgPath)
			return
		}
		if len(record.Caption) > len(existing.Caption) {
			existing.Caption = record.Caption
			existing.Source = record.Source
		}
		if existing.PageIdx == unknownPage && record.PageIdx != unknownPage {
			existing.PageIdx = record.PageIdx
		}
	}

	if legacy, ok := legacyContent.([]any); ok {
		for _, raw := range legacy {
			if item, ok := raw.(map[string]any); ok {
				if record, ok := parseLegacyTableItem(item); ok {
					upsert(record)
				}
			}
		}
	}
	for _, record := range parseV2TableItems(v2Content) {
		upsert(record)
	}

	firstSeen := map[string]int{}
	for idx, imgPath := range order {
		firstSeen[imgPath] = idx
	}
	records := make([]tableRecord, 0, len(merged))
	for _, imgPath := range order {
		records = append(records, *merged[imgPath])
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].PageIdx != records[j].PageIdx {
			return records[i].PageIdx < records[j].PageIdx
		}
		return firstSeen[records[i].ImgPath] < firstSeen[records[j].ImgPath]
	})
	return records
}
