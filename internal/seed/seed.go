// Package seed 从 YAML 文件开通会话。会话开通不在 REST 接口上，只走这里。
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sudooom.hrchat/internal/store"
)

// File 种子文件
//
//	hr_name: Sarah Connor (HR)
//	conversations:
//	  - employee_key: alice
//	    employee_name: Alice Johnson
type File struct {
	HRName        string  `yaml:"hr_name"`
	Conversations []Entry `yaml:"conversations"`
}

// Entry 一条待开通的会话，HRName 为空时使用文件级 hr_name
type Entry struct {
	EmployeeKey  string `yaml:"employee_key"`
	EmployeeName string `yaml:"employee_name"`
	HRName       string `yaml:"hr_name,omitempty"`
}

// Result 开通结果
type Result struct {
	Created int
	Skipped int // employeeKey 已存在
}

// Load 读取并校验种子文件
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析并校验种子内容
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Conversations))
	for i := range f.Conversations {
		e := &f.Conversations[i]
		e.EmployeeKey = strings.TrimSpace(e.EmployeeKey)
		e.EmployeeName = strings.TrimSpace(e.EmployeeName)
		if e.HRName == "" {
			e.HRName = f.HRName
		}
		switch {
		case e.EmployeeKey == "":
			return nil, fmt.Errorf("seed entry %d: employee_key is required", i)
		case e.EmployeeName == "":
			return nil, fmt.Errorf("seed entry %q: employee_name is required", e.EmployeeKey)
		case strings.TrimSpace(e.HRName) == "":
			return nil, fmt.Errorf("seed entry %q: hr_name is required", e.EmployeeKey)
		}
		if _, dup := seen[e.EmployeeKey]; dup {
			return nil, fmt.Errorf("seed entry %q: duplicate employee_key", e.EmployeeKey)
		}
		seen[e.EmployeeKey] = struct{}{}
	}
	return &f, nil
}

// Apply 逐条开通，已存在的 employeeKey 跳过，可重复执行
func Apply(ctx context.Context, p store.Provisioner, f *File) (Result, error) {
	var res Result
	for _, e := range f.Conversations {
		conv, err := p.Provision(ctx, e.EmployeeKey, e.HRName, e.EmployeeName)
		if errors.Is(err, store.ErrEmployeeKeyExists) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("provision %q: %w", e.EmployeeKey, err)
		}
		res.Created++
		slog.Debug("Conversation provisioned", "employeeKey", e.EmployeeKey, "conversationId", conv.ID)
	}
	return res, nil
}
