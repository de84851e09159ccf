package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/open-workshop/workshop-cache/internal/storage"
)

type sortKey struct {
	field string
	desc  bool
}

// 文本字段默认升序，计数与日期默认降序；前缀 i 反转方向。
var modSortKeys = map[string]sortKey{
	"NAME":          {storage.SortName, false},
	"SIZE":          {storage.SortSize, true},
	"CREATION_DATE": {storage.SortCreated, true},
	"UPDATE_DATE":   {storage.SortUpdated, true},
	"REQUEST_DATE":  {storage.SortRequested, true},
	"SOURCE":        {storage.SortSource, false},
	"MOD_DOWNLOADS": {storage.SortDownloads, true},
}

var gameSortKeys = map[string]sortKey{
	"NAME":          {storage.SortName, false},
	"TYPE":          {storage.SortType, false},
	"CREATION_DATE": {storage.SortCreated, true},
	"SOURCE":        {storage.SortSource, false},
	"MODS_COUNT":    {storage.SortModsCount, true},
	"MOD_DOWNLOADS": {storage.SortModsDownloads, true},
}

func parseSort(raw string, keys map[string]sortKey, fallback string) (storage.Sort, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	invert := false
	if strings.HasPrefix(raw, "i") {
		invert = true
		raw = raw[1:]
	}
	key, ok := keys[strings.ToUpper(raw)]
	if !ok {
		return storage.Sort{}, fmt.Errorf("%w: %s", ErrUnknownSort, raw)
	}
	return storage.Sort{Field: key.field, Desc: key.desc != invert}, nil
}

// ParseIDs 解析 JSON 数组 "[1,2]" 或逗号分隔 "1,2" 形式的 id 列表，空串返回 nil。
func ParseIDs(raw string) ([]uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var ids []uint64
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("invalid id list: %w", err)
		}
		return ids, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseStrings 解析 JSON 字符串数组或逗号分隔列表。
func ParseStrings(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var values []string
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("invalid list: %w", err)
		}
		return values, nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
