package grpc

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func requiredString(in *structpb.Struct, name string) (string, error) {
	v := stringField(in, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

// intField reports whether name is present as a number.
func intField(in *structpb.Struct, name string) (int64, bool) {
	v, ok := in.GetFields()[name]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return int64(n.NumberValue), true
}

func bytesField(in *structpb.Struct, name string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(stringField(in, name))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s is not base64", name)
	}
	return b, nil
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func principal(ctx context.Context) (string, error) {
	id, ok := PrincipalID(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing principal")
	}
	return id, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func epochFields(e *models.KeyEpoch) map[string]any {
	out := map[string]any{
		"epoch":      e.Epoch,
		"algorithm":  e.Algorithm,
		"public_key": e.PublicKey,
		"created_at": timestamp(e.CreatedAt),
	}
	if e.RetiredAt != nil {
		out["retired_at"] = timestamp(*e.RetiredAt)
	}
	if gen, ok := cryptox.LookupGenerator(e.Algorithm); ok {
		if fp, err := gen.Fingerprint(e.PublicKey); err == nil {
			out["fingerprint"] = fp
		}
	}
	return out
}

func recordFields(r *models.VaultRecord) map[string]any {
	return map[string]any{
		"record_id":       r.ID,
		"title":           r.Title,
		"category":        r.Category,
		"file_name":       r.FileName,
		"size":            r.Size,
		"ledger_sequence": r.LedgerSequence,
		"epoch":           r.Epoch,
		"created_at":      timestamp(r.CreatedAt),
	}
}

func (s *Server) Signup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	secret := cryptox.NewSecret([]byte(stringField(in, "secret")))
	p, e, err := s.svc.Accounts.Signup(ctx, services.RegisterInput{
		DisplayName: stringField(in, "display_name"),
		Identity:    stringField(in, "identity"),
		Secret:      secret,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := epochFields(e)
	out["principal_id"] = p.ID
	out["identity"] = p.Identity
	return reply(out)
}

func (s *Server) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	cred, err := s.svc.Accounts.Login(ctx, stringField(in, "identity"), cryptox.NewSecret([]byte(stringField(in, "secret"))))
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"token":             cred.Token,
		"principal_id":      cred.PrincipalID,
		"epoch_at_issuance": cred.EpochAtIssuance,
		"expires_at":        timestamp(cred.ExpiresAt),
	})
}

func (s *Server) Rotate(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.svc.Keys.Rotate(ctx, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(epochFields(e))
}

func (s *Server) ListEpochs(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.svc.Keys.Epochs(ctx, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	epochs := make([]any, 0, len(list))
	for _, e := range list {
		epochs = append(epochs, epochFields(e))
	}
	return reply(map[string]any{"epochs": epochs})
}

func (s *Server) ExportPublicKey(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	pemText, err := s.svc.Keys.ExportPublicKey(ctx, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"public_key_pem": pemText})
}

func (s *Server) UpdateSecuritySettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	days, _ := intField(in, "rotation_days")
	err = s.svc.Keys.UpdateSecuritySettings(ctx, pid, services.SecuritySettings{
		Algorithm:    stringField(in, "algorithm"),
		RotationDays: int(days),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{})
}

func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	content, err := bytesField(in, "content")
	if err != nil {
		return nil, err
	}
	receipt, err := s.svc.Vault.Submit(ctx, services.SubmitInput{
		PrincipalID: pid,
		Title:       stringField(in, "title"),
		Category:    stringField(in, "category"),
		FileName:    stringField(in, "file_name"),
		Content:     content,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"record_id":       receipt.RecordID,
		"ledger_sequence": receipt.LedgerSequence,
		"entry_hash":      receipt.EntryHash,
	})
}

// Verify is not owner-scoped.
func (s *Server) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredString(in, "record_id")
	if err != nil {
		return nil, err
	}
	if err := s.svc.Vault.Verify(ctx, id); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"verified": true})
}

func (s *Server) Tombstone(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(in, "record_id")
	if err != nil {
		return nil, err
	}
	entry, err := s.svc.Vault.Tombstone(ctx, id, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{
		"ledger_sequence": entry.Sequence,
		"entry_hash":      entry.Hash,
	})
}

func (s *Server) ListRecords(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.svc.Vault.List(ctx, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	records := make([]any, 0, len(list))
	for _, r := range list {
		records = append(records, recordFields(r))
	}
	return reply(map[string]any{"records": records})
}

func (s *Server) Fetch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(in, "record_id")
	if err != nil {
		return nil, err
	}
	rec, content, err := s.svc.Vault.Fetch(ctx, id, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	out := recordFields(rec)
	out["content"] = content
	return reply(out)
}

func (s *Server) DownloadURL(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	pid, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(in, "record_id")
	if err != nil {
		return nil, err
	}
	url, err := s.svc.Vault.DownloadURL(ctx, id, pid)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"url": url})
}

// VerifyChain checks [from, to]; to defaults to the current head.
func (s *Server) VerifyChain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	from, _ := intField(in, "from")
	to, ok := intField(in, "to")
	if !ok {
		head, err := s.svc.Ledger.Head(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		to = head.Sequence
	}
	if err := s.svc.Ledger.VerifyChain(ctx, from, to); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"verified": true, "from": from, "to": to})
}
