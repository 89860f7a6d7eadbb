package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSendGrid struct {
	got  *mail.SGMailV3
	resp *rest.Response
	err  error
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.got = email
	return f.resp, f.err
}

func TestSendGridSender_Success(t *testing.T) {
	client := &fakeSendGrid{resp: &rest.Response{StatusCode: 202}}
	s := NewSendGridSenderWithClient(client, "noreply@cardiocare.test", "CardioCare")

	err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body text")
	require.NoError(t, err)
	require.NotNil(t, client.got)
	assert.Equal(t, "noreply@cardiocare.test", client.got.From.Address)
	assert.Equal(t, "Hello", client.got.Subject)
	require.Len(t, client.got.Personalizations, 1)
	assert.Equal(t, "pat@example.com", client.got.Personalizations[0].To[0].Address)
}

func TestSendGridSender_ErrorStatus(t *testing.T) {
	client := &fakeSendGrid{resp: &rest.Response{StatusCode: 401, Body: "unauthorized"}}
	s := NewSendGridSenderWithClient(client, "noreply@cardiocare.test", "CardioCare")

	err := s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendGridSender_TransportError(t *testing.T) {
	client := &fakeSendGrid{err: errors.New("dial tcp: timeout")}
	s := NewSendGridSenderWithClient(client, "noreply@cardiocare.test", "")

	require.Error(t, s.SendEmail(context.Background(), "pat@example.com", "Hello", "Body"))
}

type fakeSES struct {
	got *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_BuildsInput(t *testing.T) {
	client := &fakeSES{}
	s := NewSESSender(client, "noreply@cardiocare.test", "CardioCare")

	require.NoError(t, s.SendEmail(context.Background(), "doc@example.com", "Subject", "Body"))
	require.NotNil(t, client.got)
	assert.Equal(t, "CardioCare <noreply@cardiocare.test>", aws.ToString(client.got.FromEmailAddress))
	assert.Equal(t, []string{"doc@example.com"}, client.got.Destination.ToAddresses)
	assert.Equal(t, "Subject", aws.ToString(client.got.Content.Simple.Subject.Data))
	assert.Equal(t, "Body", aws.ToString(client.got.Content.Simple.Body.Text.Data))
}

func TestSESSender_Error(t *testing.T) {
	client := &fakeSES{err: errors.New("throttled")}
	s := NewSESSender(client, "noreply@cardiocare.test", "")

	err := s.SendEmail(context.Background(), "doc@example.com", "Subject", "Body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
