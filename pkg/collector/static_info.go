package collector

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// readDMI 读取 /sys/class/dmi/id 下的单值文件，不存在或为空返回 Unknown
func readDMI(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return unknown
	}
	v := strings.TrimSpace(string(data))
	if v == "" || strings.EqualFold(v, "To Be Filled By O.E.M.") {
		return unknown
	}
	return v
}

// readOSReleaseName 解析 os-release 的 NAME 字段（例如 NAME="Ubuntu"），读不到返回空串
func readOSReleaseName(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || strings.TrimSpace(key) != "NAME" {
			continue
		}
		return strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return ""
}
