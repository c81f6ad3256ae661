package identity

import (
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"strings"
	"sync"
)

// Resolver 解析本机标识 "<hostname> - <username>"，进程内只解析一次
type Resolver struct {
	once     sync.Once
	id       string
	hostname func() (string, error)
	username func() (string, error)
	randIntn func(n int) int
}

// Option 替换主机名/用户名来源（测试用）
type Option func(*Resolver)

func WithHostname(f func() (string, error)) Option {
	return func(r *Resolver) { r.hostname = f }
}

func WithUsername(f func() (string, error)) Option {
	return func(r *Resolver) { r.username = f }
}

func WithRand(f func(n int) int) Option {
	return func(r *Resolver) { r.randIntn = f }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		hostname: os.Hostname,
		username: currentUsername,
		randIntn: rand.Intn,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 任何一步失败或结果为空时回退为 PC-<0..9999>
func (r *Resolver) Resolve() string {
	r.once.Do(func() {
		r.id = r.lookup()
	})
	return r.id
}

func (r *Resolver) lookup() string {
	host, err := r.hostname()
	if err != nil {
		return r.fallback()
	}
	name, err := r.username()
	if err != nil {
		return r.fallback()
	}
	host, name = strings.TrimSpace(host), strings.TrimSpace(name)
	if host == "" && name == "" {
		return r.fallback()
	}
	return fmt.Sprintf("%s - %s", host, name)
}

func (r *Resolver) fallback() string {
	return fmt.Sprintf("PC-%d", r.randIntn(10000))
}

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}
