package auth

import (
	"strings"
	"testing"
	"time"
)

func TestToken签发与解析往返(t *testing.T) {
	secret := []byte("test-secret")

	tokenStr, err := GenerateToken("cli", "manage", time.Hour, secret)
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	claims, err := ParseToken(tokenStr, secret)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if claims.Client != "cli" {
		t.Errorf("Client = %q, 期望 %q", claims.Client, "cli")
	}
	if claims.Scope != "manage" {
		t.Errorf("Scope = %q, 期望 %q", claims.Scope, "manage")
	}
	if !claims.CanManage() {
		t.Error("manage scope 应当具备管理权限")
	}
	if claims.Issuer != "picnexus-server" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestToken密钥不匹配时解析失败(t *testing.T) {
	tokenStr, err := GenerateToken("cli", "upload", time.Hour, []byte("secret-a"))
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	if _, err := ParseToken(tokenStr, []byte("secret-b")); err == nil {
		t.Fatal("用错误的密钥解析应当失败")
	}
}

func TestToken过期后解析失败(t *testing.T) {
	tokenStr, err := GenerateToken("cli", "upload", -time.Minute, []byte("secret"))
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}

	_, err = ParseToken(tokenStr, []byte("secret"))
	if err == nil {
		t.Fatal("过期 Token 应当解析失败")
	}
	if !strings.Contains(err.Error(), "解析token失败") {
		t.Errorf("错误信息 = %q", err)
	}
}

func TestUpload范围不具备管理权限(t *testing.T) {
	tokenStr, err := GenerateToken("cli", "upload", time.Hour, []byte("secret"))
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}
	claims, err := ParseToken(tokenStr, []byte("secret"))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if claims.CanManage() {
		t.Error("upload scope 不应具备管理权限")
	}
}

func TestSecret为空时拒绝签发(t *testing.T) {
	if _, err := GenerateToken("cli", "upload", time.Hour, nil); err == nil {
		t.Fatal("空密钥应当拒绝签发")
	}
	if _, err := ParseToken("whatever", nil); err == nil {
		t.Fatal("空密钥应当拒绝解析")
	}
}
