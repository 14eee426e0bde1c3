// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/holomush/botcmd/internal/command"
)

// permissionBits maps Discord permission flags to the names commands
// declare. Names follow Discord's API documentation.
var permissionBits = []struct {
	name command.Permission
	bit  int64
}{
	{"CREATE_INSTANT_INVITE", discordgo.PermissionCreateInstantInvite},
	{"KICK_MEMBERS", discordgo.PermissionKickMembers},
	{"BAN_MEMBERS", discordgo.PermissionBanMembers},
	{"ADMINISTRATOR", discordgo.PermissionAdministrator},
	{"MANAGE_CHANNELS", discordgo.PermissionManageChannels},
	{"MANAGE_GUILD", discordgo.PermissionManageGuild},
	{"ADD_REACTIONS", discordgo.PermissionAddReactions},
	{"VIEW_AUDIT_LOG", discordgo.PermissionViewAuditLogs},
	{"VIEW_CHANNEL", discordgo.PermissionViewChannel},
	{"SEND_MESSAGES", discordgo.PermissionSendMessages},
	{"SEND_TTS_MESSAGES", discordgo.PermissionSendTTSMessages},
	{"MANAGE_MESSAGES", discordgo.PermissionManageMessages},
	{"EMBED_LINKS", discordgo.PermissionEmbedLinks},
	{"ATTACH_FILES", discordgo.PermissionAttachFiles},
	{"READ_MESSAGE_HISTORY", discordgo.PermissionReadMessageHistory},
	{"MENTION_EVERYONE", discordgo.PermissionMentionEveryone},
	{"USE_EXTERNAL_EMOJIS", discordgo.PermissionUseExternalEmojis},
	{"CONNECT", discordgo.PermissionVoiceConnect},
	{"SPEAK", discordgo.PermissionVoiceSpeak},
	{"MUTE_MEMBERS", discordgo.PermissionVoiceMuteMembers},
	{"DEAFEN_MEMBERS", discordgo.PermissionVoiceDeafenMembers},
	{"MOVE_MEMBERS", discordgo.PermissionVoiceMoveMembers},
	{"CHANGE_NICKNAME", discordgo.PermissionChangeNickname},
	{"MANAGE_NICKNAMES", discordgo.PermissionManageNicknames},
	{"MANAGE_ROLES", discordgo.PermissionManageRoles},
	{"MANAGE_WEBHOOKS", discordgo.PermissionManageWebhooks},
	{"MANAGE_THREADS", discordgo.PermissionManageThreads},
	{"MODERATE_MEMBERS", discordgo.PermissionModerateMembers},
}

// PermissionNames lists the named permissions set in bits. Administrator
// implies every permission.
func PermissionNames(bits int64) []command.Permission {
	admin := bits&discordgo.PermissionAdministrator != 0
	names := make([]command.Permission, 0, len(permissionBits))
	for _, p := range permissionBits {
		if admin || bits&p.bit != 0 {
			names = append(names, p.name)
		}
	}
	return names
}
