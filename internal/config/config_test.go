package config

import (
	"os"
	"path/filepath"
	"testing"
)

func parseLiteral(t *testing.T, content string) *Properties {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseDirectives(t *testing.T) {
	p := parseLiteral(t, `
# a comment line
port 7777
bind 127.0.0.1
databases 4
timeout 300
maxclients 128
appendonly yes
appendfsync always
appendfilename "my.aof"
dir /tmp/data
dbfilename "my.rdb"
maxmemory 100mb
hash-max-zipmap-entries 8
hash-max-zipmap-value 32
requirepass "hunter2"
rdbcompression no
daemonize yes
pidfile /var/run/corekv.pid
`)
	if p.Port != 7777 || p.Bind != "127.0.0.1" || p.Databases != 4 {
		t.Errorf("bad net directives: %+v", p)
	}
	if p.Timeout != 300 || p.MaxClients != 128 {
		t.Errorf("bad limits: timeout=%d maxclients=%d", p.Timeout, p.MaxClients)
	}
	if !p.AppendOnly || p.AppendFsync != "always" || p.AppendFilename != "my.aof" {
		t.Errorf("bad aof directives: %+v", p)
	}
	if p.Dir != "/tmp/data" || p.DBFilename != "my.rdb" {
		t.Errorf("bad paths: %+v", p)
	}
	if p.MaxMemory != 100<<20 {
		t.Errorf("maxmemory 100mb parsed as %d", p.MaxMemory)
	}
	if p.HashMaxZipmapEntries != 8 || p.HashMaxZipmapValue != 32 {
		t.Errorf("bad zipmap watermarks: %+v", p)
	}
	if p.RequirePass != "hunter2" {
		t.Errorf("bad requirepass %q", p.RequirePass)
	}
	if p.RDBCompression {
		t.Error("rdbcompression no must disable compression")
	}
	if !p.Daemonize || p.PidFile != "/var/run/corekv.pid" {
		t.Errorf("bad daemon directives: %+v", p)
	}
}

func TestSaveRulesAccumulate(t *testing.T) {
	p := parseLiteral(t, `
save 900 1
save 300 10
save 60 10000
`)
	if len(p.SaveRules) != 3 {
		t.Fatalf("expected 3 save rules, got %d", len(p.SaveRules))
	}
	if p.SaveRules[1].Seconds != 300 || p.SaveRules[1].Changes != 10 {
		t.Errorf("bad middle rule: %+v", p.SaveRules[1])
	}
}

func TestVMDirectives(t *testing.T) {
	p := parseLiteral(t, `
vm-enabled yes
vm-swap-file /tmp/corekv-%p.swap
vm-max-memory 64mb
vm-page-size 64
vm-pages 4096
vm-max-threads 2
`)
	if !p.VMEnabled || p.VMSwapFile != "/tmp/corekv-%p.swap" {
		t.Errorf("bad vm directives: %+v", p)
	}
	if p.VMMaxMemory != 64<<20 || p.VMPageSize != 64 || p.VMPages != 4096 || p.VMMaxThreads != 2 {
		t.Errorf("bad vm geometry: %+v", p)
	}
}

func TestDefaultsSurviveEmptyConfig(t *testing.T) {
	p := parseLiteral(t, "# nothing but a comment\n")
	d := Default()
	if p.Port != d.Port || p.Databases != d.Databases || p.HashMaxZipmapEntries != d.HashMaxZipmapEntries {
		t.Errorf("defaults must apply when the file sets nothing: %+v", p)
	}
}
