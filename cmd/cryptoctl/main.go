// Package main はCLIツールのエントリポイント。
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	ownerID string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	rootCmd := &cobra.Command{
		Use:   "cryptoctl",
		Short: "Crypto Key Service CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("CRYPTOCTL_API_URL")
			}
			if ownerID == "" {
				ownerID = os.Getenv("CRYPTOCTL_OWNER_ID")
			}
			httpClient = &http.Client{Timeout: timeout}
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API endpoint URL (or set CRYPTOCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "Owner ID sent as X-Owner-ID (or set CRYPTOCTL_OWNER_ID)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cryptoctl version %s\n", version)
		},
	}
}

// doRequest はAPIリクエストを実行し、期待ステータス以外をエラーにする。
func doRequest(method, path string, reqBody any, wantStatus int) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("--api-url is required (or set CRYPTOCTL_API_URL)")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("--owner is required (or set CRYPTOCTL_OWNER_ID)")
	}

	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", ownerID)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != wantStatus {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// generateCmd は鍵生成コマンド。
func generateCmd() *cobra.Command {
	var name, algorithm string
	var keySizeBits int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodPost, "/v1/keys/generate", map[string]any{
				"name":          name,
				"algorithm":     algorithm,
				"key_size_bits": keySizeBits,
			}, http.StatusCreated)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Created key %q (id: %v)\n", name, result["id"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "AES", "Key algorithm: AES, RSA")
	cmd.Flags().IntVar(&keySizeBits, "bits", 256, "Key size in bits")
	cmd.MarkFlagRequired("name")
	return cmd
}

// listCmd は鍵一覧コマンド。
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all keys for the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodGet, "/v1/keys", nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result struct {
					Keys []struct {
						ID          string `json:"id"`
						Name        string `json:"name"`
						Algorithm   string `json:"algorithm"`
						KeySizeBits int    `json:"key_size_bits"`
						Status      string `json:"status"`
						CreatedAt   string `json:"created_at"`
					} `json:"keys"`
				}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}

				fmt.Printf("%-38s %-20s %-6s %-6s %-10s %s\n", "ID", "NAME", "ALG", "BITS", "STATUS", "CREATED_AT")
				for _, k := range result.Keys {
					fmt.Printf("%-38s %-20s %-6s %-6d %-10s %s\n", k.ID, k.Name, k.Algorithm, k.KeySizeBits, k.Status, k.CreatedAt)
				}
			}
			return nil
		},
	}
}

// getCmd は鍵取得コマンド。
func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key-id>",
		Short: "Get a key including its material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodGet, "/v1/keys/"+args[0], nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]interface{}
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Printf("Key %v (%v %v bits, status: %v)\n", result["name"], result["algorithm"], result["key_size_bits"], result["status"])
			}
			return nil
		},
	}
	return cmd
}

// revokeCmd は鍵失効コマンド。
func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodPost, "/v1/keys/"+args[0]+"/revoke", nil, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				fmt.Printf("Revoked key %s\n", args[0])
			}
			return nil
		},
	}
}

// deleteCmd は鍵削除コマンド。
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Permanently delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := doRequest(http.MethodDelete, "/v1/keys/"+args[0], nil, http.StatusNoContent); err != nil {
				return err
			}

			if output == "json" {
				fmt.Println("{}")
			} else {
				fmt.Printf("Deleted key %s\n", args[0])
			}
			return nil
		},
	}
}

// exportCmd は鍵エクスポートコマンド。
func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <key-id>",
		Short: "Export key material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodGet, "/v1/keys/"+args[0]+"/export", nil, http.StatusOK)
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	}
}

// hashCmd はダイジェスト計算コマンド。
func hashCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "hash <text>",
		Short: "Compute a message digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(http.MethodPost, "/v1/crypto/hash", map[string]any{
				"text":      args[0],
				"algorithm": algorithm,
			}, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]string
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Println(result["digest"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "sha256", "Digest algorithm: md5, sha1, sha256, sha512")
	return cmd
}

// signCmd は署名コマンド。
func signCmd() *cobra.Command {
	var keyFile, algorithm string
	cmd := &cobra.Command{
		Use:   "sign <data>",
		Short: "Sign data with an RSA private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pem, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("reading private key file: %w", err)
			}

			body, err := doRequest(http.MethodPost, "/v1/crypto/sign", map[string]any{
				"data":            args[0],
				"private_key_pem": string(pem),
				"algorithm":       algorithm,
			}, http.StatusOK)
			if err != nil {
				return err
			}

			if output == "json" {
				fmt.Println(string(body))
			} else {
				var result map[string]string
				if err := json.Unmarshal(body, &result); err != nil {
					return fmt.Errorf("parsing response: %w", err)
				}
				fmt.Println(result["signature"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Path to RSA private key PEM (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "RSA-SHA256", "Signing algorithm")
	cmd.MarkFlagRequired("key-file")
	return cmd
}

// verifyCmd は署名検証コマンド。
func verifyCmd() *cobra.Command {
	var keyFile, signature, algorithm string
	cmd := &cobra.Command{
		Use:   "verify <data>",
		Short: "Verify a signature with an RSA public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pem, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("reading public key file: %w", err)
			}

			body, err := doRequest(http.MethodPost, "/v1/crypto/verify", map[string]any{
				"data":           args[0],
				"signature":      signature,
				"public_key_pem": string(pem),
				"algorithm":      algorithm,
			}, http.StatusOK)
			if err != nil {
				return err
			}

			var result map[string]bool
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if result["is_valid"] {
				fmt.Println("Signature is valid.")
				return nil
			}
			fmt.Println("Signature is NOT valid.")
			os.Exit(1)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Path to RSA public key PEM (required)")
	cmd.Flags().StringVar(&signature, "signature", "", "Base64 signature to verify (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "RSA-SHA256", "Signing algorithm")
	cmd.MarkFlagRequired("key-file")
	cmd.MarkFlagRequired("signature")
	return cmd
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
