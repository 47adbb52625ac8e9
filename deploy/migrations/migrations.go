package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

// Files 暴露所有 SQL 迁移文件，按文件名前缀排序执行。
//
//go:embed *.sql
var Files embed.FS

// Statements 按顺序返回每个迁移文件中的 SQL 语句。
func Statements() ([]string, error) {
	entries, err := fs.Glob(Files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	statements := make([]string, 0, len(entries))
	for _, name := range entries {
		content, err := Files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}
